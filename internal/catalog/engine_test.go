package catalog_test

import (
	"testing"

	"github.com/rudransh-shrivastava/scrapyard/internal/catalog"
	"github.com/rudransh-shrivastava/scrapyard/internal/config"
	"github.com/rudransh-shrivastava/scrapyard/internal/logx"
	"github.com/rudransh-shrivastava/scrapyard/internal/scraperr"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *catalog.Engine {
	t.Helper()
	e, err := catalog.New(logx.New(false), config.Config{DBName: ":memory:"})
	require.NoError(t, err)
	return e
}

func TestEngine_AddStampsOwnerAndTimestamps(t *testing.T) {
	e := newTestEngine(t)

	site, err := e.Add(catalog.Fields{Name: "Alpha", Description: "a site"})
	require.NoError(t, err)
	require.NotEmpty(t, site.ID)
	require.Equal(t, e.NodeID(), site.OwnerID)
	require.NotEmpty(t, site.AddedAt)
	require.Equal(t, site.AddedAt, site.UpdatedAt)

	mine, err := e.MySites()
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, "Alpha", mine[0].Name)
}

func TestEngine_UpdateMissingIDReturnsNilNoError(t *testing.T) {
	e := newTestEngine(t)

	got, err := e.Update("does-not-exist", map[string]any{"name": "x"})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestEngine_RemoveIsIdempotentAndTombstones(t *testing.T) {
	e := newTestEngine(t)

	site, err := e.Add(catalog.Fields{Name: "Gamma"})
	require.NoError(t, err)

	require.NoError(t, e.Remove(site.ID))
	require.NoError(t, e.Remove(site.ID))

	_, err = e.Get(site.ID)
	require.Error(t, err)

	all, err := e.AllSites()
	require.NoError(t, err)
	for _, s := range all {
		require.NotEqual(t, site.ID, s.ID)
	}
}

func TestEngine_AdoptCopiesMetadataUnderNewID(t *testing.T) {
	e := newTestEngine(t)

	original, err := e.Add(catalog.Fields{Name: "Beta", Description: "d", URL: "u", Thumbnail: "t"})
	require.NoError(t, err)
	require.NoError(t, e.UpdateFileStats(original.ID, 3, 12345))

	adopted, originalID, err := e.Adopt(original.ID)
	require.NoError(t, err)
	require.Equal(t, original.ID, originalID)
	require.NotEqual(t, original.ID, adopted.ID)
	require.Equal(t, e.NodeID(), adopted.OwnerID)
	require.Equal(t, "Beta", adopted.Name)
	require.Equal(t, "d", adopted.Description)
	require.Equal(t, "u", adopted.URL)
	require.Equal(t, "t", adopted.Thumbnail)
}

func TestEngine_AdoptMissingIDFails(t *testing.T) {
	e := newTestEngine(t)

	_, _, err := e.Adopt("no-such-id")
	require.Error(t, err)
}

func TestEngine_ZeroValueReturnsNotInitialized(t *testing.T) {
	var e catalog.Engine

	_, err := e.AllSites()
	require.ErrorIs(t, err, scraperr.ErrNotInitialized)

	_, err = e.Add(catalog.Fields{Name: "x"})
	require.ErrorIs(t, err, scraperr.ErrNotInitialized)

	err = e.Remove("site-1")
	require.ErrorIs(t, err, scraperr.ErrNotInitialized)
}

func TestEngine_AvailableSitesExcludesOwn(t *testing.T) {
	e := newTestEngine(t)

	mine, err := e.Add(catalog.Fields{Name: "Mine"})
	require.NoError(t, err)
	require.NoError(t, e.UpdateFileStats(mine.ID, 5, 500))

	available, err := e.AvailableSites()
	require.NoError(t, err)
	for _, s := range available {
		require.NotEqual(t, mine.ID, s.ID)
	}
}
