package metrics

/*
Labels and so on for metrics used in tagbot.
*/

const (
	Namespace = "tagbot"

	LabelSuccess  = "success"
	LabelRegistry = "registry"
	LabelKind     = "kind"

	// Labels for reconciliation metrics
	LabelStage  = "stage"
	LabelStatus = "status"
)
