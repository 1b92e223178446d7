package handlers

import (
	"net/http"

	"studio/internal/middleware"
)

// GetCredits returns the caller's current credit balance.
func (a *App) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	balance, err := a.Ledger.Balance(r.Context(), userID)
	if err != nil {
		a.taskError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"user_id": userID, "credits": balance})
}
