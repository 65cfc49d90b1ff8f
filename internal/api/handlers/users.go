package handlers

import (
	"net/http"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
)

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.Users.Get(r.Context(), caller(r))
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	users, err := h.Users.List(r.Context(), limit, offset)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}
