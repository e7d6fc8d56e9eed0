package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memcord/memcord/internal/memerr"
)

func TestOwnerScopeValidate(t *testing.T) {
	assert.NoError(t, OwnerScope{UserID: "u", AgentID: "a"}.Validate())
	assert.ErrorIs(t, OwnerScope{AgentID: "a"}.Validate(), memerr.ErrValidation)
	assert.ErrorIs(t, OwnerScope{UserID: "u"}.Validate(), memerr.ErrValidation)
}

func TestOwnerScopeKey(t *testing.T) {
	assert.Equal(t, "alice/assistant", OwnerScope{UserID: "alice", AgentID: "assistant"}.Key())
}

func TestValidateMetadata(t *testing.T) {
	assert.NoError(t, ValidateMetadata(nil))
	assert.NoError(t, ValidateMetadata(map[string]any{
		"str":   "x",
		"num":   3.14,
		"int":   7,
		"bool":  true,
		"tags":  []any{"a", "b"},
		"nums":  []any{1.0, 2.0},
	}))

	assert.ErrorIs(t, ValidateMetadata(map[string]any{
		"nested": map[string]any{"no": "way"},
	}), memerr.ErrValidation)
	assert.ErrorIs(t, ValidateMetadata(map[string]any{
		"deep": []any{map[string]any{"no": "way"}},
	}), memerr.ErrValidation)
}

func TestValidateImportance(t *testing.T) {
	assert.NoError(t, ValidateImportance(0))
	assert.NoError(t, ValidateImportance(1))
	assert.ErrorIs(t, ValidateImportance(-0.1), memerr.ErrValidation)
	assert.ErrorIs(t, ValidateImportance(1.1), memerr.ErrValidation)
}

func TestRelationshipValidate(t *testing.T) {
	valid := Relationship{ID: "r", SourceID: "a", TargetID: "b", Type: "relates_to", Weight: 0.5}
	assert.NoError(t, valid.Validate())

	self := valid
	self.TargetID = "a"
	assert.ErrorIs(t, self.Validate(), memerr.ErrValidation)

	untyped := valid
	untyped.Type = ""
	assert.ErrorIs(t, untyped.Validate(), memerr.ErrValidation)

	heavy := valid
	heavy.Weight = 1.01
	assert.ErrorIs(t, heavy.Validate(), memerr.ErrValidation)
}

func TestRelationshipOtherEnd(t *testing.T) {
	r := Relationship{SourceID: "a", TargetID: "b"}
	assert.Equal(t, "b", r.OtherEnd("a"))
	assert.Equal(t, "a", r.OtherEnd("b"))
}
