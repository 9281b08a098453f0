package context

type Key string

const (
	RequestContext Key = "request_context"
	Params         Key = "params"
)
