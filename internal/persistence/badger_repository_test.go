package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"kalshi-reversion-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRepo(t *testing.T, dir string) StateRepository {
	t.Helper()
	repo, err := NewBadgerRepository(filepath.Join(dir, "state"))
	require.NoError(t, err)
	return repo
}

// TestLoadStateEmpty verifies a fresh database yields no state and no error.
func TestLoadStateEmpty(t *testing.T) {
	repo := openTestRepo(t, t.TempDir())
	defer repo.Close()

	state, err := repo.LoadState()
	require.NoError(t, err)
	assert.Nil(t, state, "a fresh database should have no saved state")
}

// TestSaveAndLoadState verifies a round trip preserves tracked positions.
func TestSaveAndLoadState(t *testing.T) {
	repo := openTestRepo(t, t.TempDir())
	defer repo.Close()

	entryTime := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	state := models.NewBotState("median-reversion")
	state.Positions["KXTEST-26DEC31"] = &models.Position{
		Ticker:     "KXTEST-26DEC31",
		EntryPrice: 0.48,
		Quantity:   7,
		EntryTime:  entryTime,
	}

	require.NoError(t, repo.SaveState(state))

	loaded, err := repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "median-reversion", loaded.BotID)

	pos := loaded.Positions["KXTEST-26DEC31"]
	require.NotNil(t, pos)
	assert.Equal(t, 0.48, pos.EntryPrice)
	assert.Equal(t, 7, pos.Quantity)
	assert.True(t, entryTime.Equal(pos.EntryTime))
}

// TestStateSurvivesReopen verifies persistence across a close/reopen cycle.
func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	repo := openTestRepo(t, dir)
	state := models.NewBotState("median-reversion")
	state.Positions["KXA-26DEC31"] = &models.Position{Ticker: "KXA-26DEC31", Quantity: 3}
	require.NoError(t, repo.SaveState(state))
	require.NoError(t, repo.Close())

	repo = openTestRepo(t, dir)
	defer repo.Close()

	loaded, err := repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Contains(t, loaded.Positions, "KXA-26DEC31")
}

// TestSaveOverwrites verifies the latest save wins.
func TestSaveOverwrites(t *testing.T) {
	repo := openTestRepo(t, t.TempDir())
	defer repo.Close()

	first := models.NewBotState("median-reversion")
	first.Positions["KXA-26DEC31"] = &models.Position{Ticker: "KXA-26DEC31", Quantity: 3}
	require.NoError(t, repo.SaveState(first))

	second := models.NewBotState("median-reversion")
	require.NoError(t, repo.SaveState(second))

	loaded, err := repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Empty(t, loaded.Positions, "the overwritten position must be gone")
}
