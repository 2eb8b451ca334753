package configure

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/destacey/calsync/pkg/config"
	"github.com/destacey/calsync/pkg/store"
)

// nopCloseStore keeps the underlying store open across run calls, which each
// close the store they're handed.
type nopCloseStore struct {
	store.Store
}

func (nopCloseStore) Close() error { return nil }

func mockStore(t *testing.T) (store.Store, *bytes.Buffer) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	oldStdout, oldParse, oldOpen := stdout, parseUserConfig, openStore
	t.Cleanup(func() {
		stdout, parseUserConfig, openStore = oldStdout, oldParse, oldOpen
	})

	var out bytes.Buffer
	stdout = &out
	parseUserConfig = func() (config.User, error) {
		return config.User{}, nil
	}
	openStore = func(config.User) (store.Store, error) {
		return nopCloseStore{st}, nil
	}
	return st, &out
}

func TestConfigureSetAndShow(t *testing.T) {
	st, out := mockStore(t)

	require.NoError(t, run("2024-01-01", "2024-06-30"))
	assert.Contains(t, out.String(),
		"Sync range set to 2024-01-01 through 2024-06-30.")

	cfg, err := st.GetSyncConfig()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cfg.StartDate)
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), cfg.EndDate)

	out.Reset()
	require.NoError(t, run("", ""))
	assert.Contains(t, out.String(), "Sync range: 2024-01-01 through 2024-06-30")
}

func TestConfigureUpdatesOneBound(t *testing.T) {
	st, _ := mockStore(t)

	require.NoError(t, run("2024-01-01", "2024-06-30"))
	require.NoError(t, run("", "2024-12-31"))

	cfg, err := st.GetSyncConfig()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cfg.StartDate)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), cfg.EndDate)
}

func TestConfigureRejectsInvertedRange(t *testing.T) {
	st, _ := mockStore(t)

	require.NoError(t, run("2024-01-01", "2024-06-30"))
	assert.Error(t, run("2024-07-01", "2024-06-30"))

	// The stored range is untouched.
	cfg, err := st.GetSyncConfig()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), cfg.EndDate)
}

func TestConfigureRejectsGarbageDate(t *testing.T) {
	mockStore(t)
	assert.Error(t, run("not-a-date", ""))
}

func TestConfigureShowUnset(t *testing.T) {
	_, out := mockStore(t)

	require.NoError(t, run("", ""))
	assert.Contains(t, out.String(), "No sync range is configured.")
}
