package rag

import "strings"

type State int

// ingest flow
const (
	StateIdle State = iota
	StateExtracting
	StateChunking
	StateEmbedding
	StateIndexing
	StateReady
)

// query flow
const (
	StateEmbeddingQuery State = iota + 100
	StateRetrieving
	StateRoutingDecision
	StateGenerating
	StateDone
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateExtracting:      "extracting",
	StateChunking:        "chunking",
	StateEmbedding:       "embedding",
	StateIndexing:        "indexing",
	StateReady:           "ready",
	StateEmbeddingQuery:  "embedding_query",
	StateRetrieving:      "retrieving",
	StateRoutingDecision: "routing_decision",
	StateGenerating:      "generating",
	StateDone:            "done",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

type queryFlow []State

func (f queryFlow) String() string {
	names := make([]string, len(f))
	for i, s := range f {
		names[i] = s.String()
	}
	return strings.Join(names, " -> ")
}
