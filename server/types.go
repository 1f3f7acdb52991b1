package server

import "github.com/meikuraledutech/procgraph"

// CreateVersionRequest is the body of POST /processes/:processId/versions.
type CreateVersionRequest struct {
	VersionNumber int              `json:"versionNumber" validate:"required,min=1"`
	Model         procgraph.Graph  `json:"model"`
	Layout        procgraph.Layout `json:"layout"`
	ActorID       string           `json:"actorId"`
}

// ApplyOpsRequest is the body of POST /processes/:processId/versions/:version/ops.
type ApplyOpsRequest struct {
	Ops              []procgraph.Operation `json:"ops"              validate:"required"`
	ExpectedRevision *int64                `json:"expectedRevision" validate:"required,min=0"`
	ActorID          string                `json:"actorId"`
}

// batchSchema checks the envelope of an operation batch before it is decoded. Payloads are
// left to the interpreter, which skips the ones it cannot use.
var batchSchema = map[string]any{
	"type":     "object",
	"required": []any{"ops", "expectedRevision"},
	"properties": map[string]any{
		"ops": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"type"},
				"properties": map[string]any{
					"type": map[string]any{"type": "string", "minLength": 1},
				},
			},
		},
		"expectedRevision": map[string]any{"type": "integer", "minimum": 0},
		"actorId":          map[string]any{"type": "string"},
	},
}
