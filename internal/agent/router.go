package agent

// Stage names the orchestrator states. One query moves Start through Done;
// Errored is reserved for total backend failure.
type Stage string

const (
	StageStart      Stage = "start"
	StageAnalyzing  Stage = "analyzing"
	StageRouting    Stage = "routing"
	StageRetrieving Stage = "retrieving"
	StageGenerating Stage = "generating"
	StagePersisting Stage = "persisting"
	StageDone       Stage = "done"
	StageErrored    Stage = "errored"
)

// Route decides the stage after analysis. It is a pure function of the
// analysis flags: any retrieval need goes through the retriever, everything
// else goes straight to generation.
func Route(needsData, needsDocSearch bool) Stage {
	if needsData || needsDocSearch {
		return StageRetrieving
	}
	return StageGenerating
}
