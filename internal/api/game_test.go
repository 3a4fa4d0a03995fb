package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/play4096/internal/domain"
)

func sampleBoard() [][]int {
	return [][]int{
		{2, 4, 0, 0},
		{0, 8, 0, 0},
		{0, 0, 16, 0},
		{0, 0, 0, 2},
	}
}

func TestGetGameAnonymous(t *testing.T) {
	f := newFixture(t)
	body := f.client().get("/api/game").json(t)
	assert.Nil(t, body["profile"])
	assert.Nil(t, body["current_game"])
}

func TestSaveGame(t *testing.T) {
	f := newFixture(t)
	f.createUser("alice", "hunter22", nil)
	f.createUser("bob", "hunter22", nil)

	resp := f.client().post("/api/game/save", map[string]interface{}{"board": sampleBoard()})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "Not logged in", resp.errorMessage(t))

	c := f.login("alice", "hunter22")

	resp = c.post("/api/game/save", map[string]interface{}{"score": 10})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "Game data is required", resp.errorMessage(t))

	resp = c.post("/api/game/save", map[string]interface{}{"board": [][]int{{2, 4}, {8}}})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = c.post("/api/game/save", map[string]interface{}{"board": [][]int{{3, 0}, {0, 0}}})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = c.post("/api/game/save", map[string]interface{}{"board": sampleBoard(), "score": 120})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	id := resp.json(t)["id"].(string)

	current := c.get("/api/game").json(t)["current_game"].(map[string]interface{})
	assert.Equal(t, id, current["id"])
	assert.Equal(t, float64(120), current["score"])

	// bob cannot overwrite alice's game
	bob := f.login("bob", "hunter22")
	resp = bob.post("/api/game/save", map[string]interface{}{"id": id, "board": sampleBoard(), "score": 1})
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, "Game not found", resp.errorMessage(t))

	// finishing the game leaves nothing to resume
	resp = c.post("/api/game/save", map[string]interface{}{"id": id, "board": sampleBoard(), "score": 200, "complete": true})
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, id, resp.json(t)["id"])
	assert.Nil(t, c.get("/api/game").json(t)["current_game"])
}

func TestSaveScore(t *testing.T) {
	f := newFixture(t)
	alice := f.createUser("alice", "hunter22", nil)
	c := f.login("alice", "hunter22")

	resp := c.post("/api/game/score", map[string]int{"score": -1})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	require.Equal(t, http.StatusOK, c.post("/api/game/score", map[string]int{"score": 512}).status)
	require.Equal(t, http.StatusOK, c.post("/api/game/score", map[string]int{"score": 256}).status)

	profile, err := f.store.GetProfile(context.Background(), alice.ID)
	require.NoError(t, err)
	require.NotNil(t, profile.BestScore)
	assert.Equal(t, int64(512), *profile.BestScore)
}

func TestNewGameAndMove(t *testing.T) {
	f := newFixture(t)
	f.createUser("alice", "hunter22", nil)
	f.createUser("bob", "hunter22", nil)
	c := f.login("alice", "hunter22")

	resp := c.post("/api/game/new", nil)
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))
	g := resp.json(t)
	id := g["id"].(string)

	tiles := 0
	for _, row := range g["board"].([]interface{}) {
		for _, v := range row.([]interface{}) {
			if v.(float64) != 0 {
				tiles++
			}
		}
	}
	assert.Equal(t, f.cfg.Game.StartingTiles, tiles)

	resp = c.post("/api/game/"+id+"/move", map[string]string{"direction": "sideways"})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	moved := false
	for _, dir := range []string{"left", "right", "up", "down"} {
		resp = c.post("/api/game/"+id+"/move", map[string]string{"direction": dir})
		require.Equal(t, http.StatusOK, resp.status, string(resp.body))
		if resp.json(t)["moved"] == true {
			moved = true
			break
		}
	}
	assert.True(t, moved)

	bob := f.login("bob", "hunter22")
	assert.Equal(t, http.StatusNotFound, bob.post("/api/game/"+id+"/move", map[string]string{"direction": "left"}).status)
	assert.Equal(t, http.StatusNotFound, c.post("/api/game/missing/move", map[string]string{"direction": "left"}).status)

	resp = c.get("/api/game/history?limit=5")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, string(resp.body), id)
	assert.Equal(t, "[]\n", string(bob.get("/api/game/history").body))
}

func TestMoveOnCompletedGame(t *testing.T) {
	f := newFixture(t)
	f.createUser("alice", "hunter22", nil)
	c := f.login("alice", "hunter22")

	resp := c.post("/api/game/save", map[string]interface{}{"board": sampleBoard(), "score": 40, "complete": true})
	require.Equal(t, http.StatusOK, resp.status)
	id := resp.json(t)["id"].(string)

	resp = c.post("/api/game/"+id+"/move", map[string]string{"direction": "left"})
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.Equal(t, "Game is already complete", resp.errorMessage(t))
}

func TestLeaderboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pro := func(u *domain.User) { u.Level = domain.LevelPro }
	scores := map[string]int64{"alice": 4096, "bob": 2048, "carol": 8192}
	for name, score := range scores {
		var mutate func(*domain.User)
		if name != "carol" {
			mutate = pro
		}
		u := f.createUser(name, "hunter22", mutate)
		_, err := f.store.UpdateBestScore(ctx, u.ID, score)
		require.NoError(t, err)
	}

	c := f.client()
	entries := c.get("/api/leaderboard").json(t)["entries"].([]interface{})
	require.Len(t, entries, 2)
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "alice", first["username"])
	assert.Equal(t, float64(1), first["rank"])
	assert.Equal(t, float64(4096), first["best_score"])

	entries = c.get("/api/leaderboard?limit=1").json(t)["entries"].([]interface{})
	assert.Len(t, entries, 1)
}

func TestLeaderboardEmpty(t *testing.T) {
	f := newFixture(t)
	entries := f.client().get("/api/leaderboard").json(t)["entries"]
	assert.Equal(t, []interface{}{}, entries)
}
