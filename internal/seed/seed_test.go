package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/eventreg/internal/admission"
	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository/repotest"
	"github.com/Shivanand-hulikatti/eventreg/internal/service"
)

func newLoader(t *testing.T) (*Loader, repository.Store) {
	t.Helper()
	store := repotest.OpenSQLite(t)
	svc := service.NewEventService(store, admission.New(store, nil))
	return NewLoader(store, svc, nil), store
}

func TestApplyFixtureFile(t *testing.T) {
	f, err := LoadFile("testdata/fixtures.yaml")
	require.NoError(t, err)
	require.Len(t, f.Events, 3)

	loader, store := newLoader(t)
	sum, err := loader.Apply(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Organizers)
	assert.Equal(t, 2, sum.Participants)
	require.Len(t, sum.Events, 3)

	statuses := map[string]model.Status{}
	for _, e := range sum.Events {
		statuses[e.Name] = e.Status
	}
	assert.Equal(t, map[string]model.Status{
		"Build Night":     model.StatusPublished,
		"Club Hoodie":     model.StatusPublished,
		"Workshop draft": model.StatusDraft,
	}, statuses)

	hoodie, err := store.GetEvent(context.Background(), sum.Events[1].ID)
	require.NoError(t, err)
	require.NotNil(t, hoodie.Merchandise)
	assert.Equal(t, "Hoodie", hoodie.Merchandise.Item.Name)
	assert.Len(t, hoodie.Merchandise.Item.Variants, 2)
	assert.Equal(t, 2, hoodie.PurchaseLimit())

	p, err := store.GetParticipant(context.Background(), "p-ben")
	require.NoError(t, err)
	assert.Equal(t, "external", p.Category)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("organisers: []\n"))
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	f, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Events)
}

func TestApplyStopsOnInvalidEvent(t *testing.T) {
	f, err := Parse(strings.NewReader(`
organizers:
  - id: org-1
    name: Chess Club
events:
  - organizer: org-1
    publish: true
    name: Blitz
    eventType: normal
`))
	require.NoError(t, err)

	loader, _ := newLoader(t)
	sum, err := loader.Apply(context.Background(), f)
	assert.ErrorContains(t, err, `publish "Blitz"`)
	assert.Equal(t, 1, sum.Organizers)
	assert.Empty(t, sum.Events)
}
