package handler

import (
	"net/http"

	"github.com/questline/session-server-go/internal/httputil"
	"github.com/questline/session-server-go/internal/model"
	"github.com/questline/session-server-go/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func formatGame(view *service.ClientView) map[string]any {
	return map[string]any{
		"game": view,
	}
}

func formatRoster(state *model.GameState) []map[string]any {
	roster := make([]map[string]any, 0, len(state.Players))
	for _, p := range state.Players {
		roster = append(roster, map[string]any{
			"playerId":      p.PlayerID,
			"characterId":   p.CharacterID,
			"characterName": p.CharacterName,
			"joinedAt":      p.JoinedAt,
		})
	}
	return roster
}
