// SPDX-License-Identifier: AGPL-3.0-only
package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigduu/Bamboo/internal/config"
)

// getConfig returns the whole configuration document with every
// secret field masked.
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.Mask(s.Config.Current()))
}

func (s *Server) getConfigSection(w http.ResponseWriter, r *http.Request) {
	section := chi.URLParam(r, "section")
	v, err := s.Config.Section(section)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// postConfig replaces the whole document, applying the
// preserve-on-masked-secret rule so a client that GETs and POSTs back
// verbatim never clobbers a real secret with the mask placeholder.
func (s *Server) postConfig(w http.ResponseWriter, r *http.Request) {
	var incoming config.Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config body: "+err.Error())
		return
	}
	updated, err := s.Config.Update("", &incoming)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// postConfigSection accepts just the body of one section (not the
// whole document) and splices it into a full masked snapshot before
// handing it to Update, so a masked secret elsewhere in the document
// isn't mistaken for an explicit overwrite.
func (s *Server) postConfigSection(w http.ResponseWriter, r *http.Request) {
	section := chi.URLParam(r, "section")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid config body: "+err.Error())
		return
	}

	baseJSON, err := json.Marshal(config.Mask(s.Config.Current()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(baseJSON, &fields); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	fields[section] = body

	splicedJSON, err := json.Marshal(fields)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var incoming config.Config
	if err := json.Unmarshal(splicedJSON, &incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid section body: "+err.Error())
		return
	}

	updated, err := s.Config.Update(section, &incoming)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) postConfigReload(w http.ResponseWriter, r *http.Request) {
	updated, err := s.Config.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
