package crdt_test

import (
	"testing"

	"github.com/rudransh-shrivastava/scrapyard/internal/crdt"
	"github.com/stretchr/testify/require"
)

type testSite struct {
	ID   string `gorm:"primaryKey"`
	Name string
}

func (testSite) TableName() string { return "sites" }

func openTestStore(t *testing.T) *crdt.Store {
	t.Helper()
	s, err := crdt.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.DB().AutoMigrate(&testSite{}))
	require.NoError(t, s.EnableCRDT("sites"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_NodeIDStableAndVersionMonotone(t *testing.T) {
	s := openTestStore(t)
	require.NotEmpty(t, s.NodeID())
	require.EqualValues(t, 0, s.Version())

	require.NoError(t, s.PutRow("sites", "site-1", map[string]any{"name": "Alpha"}))
	require.EqualValues(t, 1, s.Version())

	require.NoError(t, s.UpdateColumns("sites", "site-1", map[string]any{"name": "Alpha2"}))
	require.EqualValues(t, 2, s.Version())
}

func TestStore_ChangesSinceAndApplyConverge(t *testing.T) {
	a := openTestStore(t)
	b := openTestStore(t)

	require.NoError(t, a.PutRow("sites", "site-1", map[string]any{"name": "Alpha"}))

	changes, err := a.ChangesSince(0)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	require.NoError(t, b.ApplyChanges(changes))

	var row testSite
	require.NoError(t, b.DB().Table("sites").Where("id = ?", "site-1").First(&row).Error)
	require.Equal(t, "Alpha", row.Name)
}

func TestStore_ApplyChangesIsIdempotent(t *testing.T) {
	a := openTestStore(t)
	b := openTestStore(t)

	require.NoError(t, a.PutRow("sites", "site-1", map[string]any{"name": "Alpha"}))
	changes, err := a.ChangesSince(0)
	require.NoError(t, err)

	require.NoError(t, b.ApplyChanges(changes))
	require.NoError(t, b.ApplyChanges(changes))

	var row testSite
	require.NoError(t, b.DB().Table("sites").Where("id = ?", "site-1").First(&row).Error)
	require.Equal(t, "Alpha", row.Name)
}

func TestStore_SubscribeNotifiesOnLocalWrite(t *testing.T) {
	s := openTestStore(t)

	notified := make(chan string, 1)
	unsubscribe := s.Subscribe(func(table, pk string) {
		notified <- table + ":" + pk
	})
	defer unsubscribe()

	require.NoError(t, s.PutRow("sites", "site-1", map[string]any{"name": "Alpha"}))

	select {
	case got := <-notified:
		require.Equal(t, "sites:site-1", got)
	default:
		t.Fatal("expected a notification")
	}
}
