package domain

// Agent describes a named processing unit in the agent network.
// Agents are static metadata: name, domain, capabilities. Their
// execution order is decided per session when processing starts.
type Agent struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Domain       string         `json:"domain"`
	Capabilities []string       `json:"capabilities"`
	Handles      []FileCategory `json:"-"`
}

// HandlesCategory returns true if the agent processes files of the
// given category.
func (a *Agent) HandlesCategory(c FileCategory) bool {
	for _, h := range a.Handles {
		if h == c {
			return true
		}
	}
	return false
}
