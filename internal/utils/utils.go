package utils

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to write JSON", "error", err)
	}
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": msg,
	})
}

// WriteErrorKind is WriteError with a machine-readable failure kind.
func WriteErrorKind(w http.ResponseWriter, status int, kind, msg string) {
	WriteJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"kind":    kind,
		"message": msg,
	})
}

// WriteCSV sends rows as a CSV attachment named filename.
func WriteCSV(w http.ResponseWriter, filename string, header []string, rows [][]string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		slog.Error("failed to write CSV", "error", err)
		return
	}
	if err := cw.WriteAll(rows); err != nil {
		slog.Error("failed to write CSV", "error", err)
	}
}
