package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/berri-graph/internal/model"
)

func TestDiffEdges(t *testing.T) {
	tests := []struct {
		name        string
		stored      []string
		fresh       []string
		wantAdded   []string
		wantRemoved []string
	}{
		{
			name:      "empty stored adds everything",
			stored:    nil,
			fresh:     []string{"1", "2"},
			wantAdded: []string{"1", "2"},
		},
		{
			name:        "empty fresh removes everything",
			stored:      []string{"1", "2"},
			fresh:       nil,
			wantRemoved: []string{"1", "2"},
		},
		{
			name:   "identical sets produce no delta",
			stored: []string{"1", "2", "3"},
			fresh:  []string{"3", "1", "2"},
		},
		{
			name:        "mixed delta keeps input order",
			stored:      []string{"1", "2", "3", "4"},
			fresh:       []string{"5", "2", "6", "4"},
			wantAdded:   []string{"5", "6"},
			wantRemoved: []string{"1", "3"},
		},
		{
			name:        "duplicates are reported once",
			stored:      []string{"1", "1", "2"},
			fresh:       []string{"3", "3", "2"},
			wantAdded:   []string{"3"},
			wantRemoved: []string{"1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, removed := DiffEdges(tt.stored, tt.fresh)
			assert.Equal(t, tt.wantAdded, added)
			assert.Equal(t, tt.wantRemoved, removed)
		})
	}
}

func TestUniqueUsers(t *testing.T) {
	in := []model.User{
		{ID: "1", Username: "first"},
		{ID: ""},
		{ID: "2"},
		{ID: "1", Username: "second"},
	}

	out := UniqueUsers(in)

	assert.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, "first", out[0].Username)
	assert.Equal(t, "2", out[1].ID)
}
