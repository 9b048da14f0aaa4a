package service

import "sync"

// navigator records the route a flow asked to navigate to.
type navigator struct {
	registration         string
	completeRegistration string

	mu    sync.Mutex
	route string
}

func newNavigator(registration, completeRegistration string) *navigator {
	return &navigator{
		registration:         registration,
		completeRegistration: completeRegistration,
	}
}

func (n *navigator) RedirectToRegistration() {
	n.set(n.registration)
}

func (n *navigator) RedirectToCompleteRegistration() {
	n.set(n.completeRegistration)
}

func (n *navigator) set(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.route == "" {
		n.route = route
	}
}

// Route returns the recorded route, or "" if the flow has not navigated.
func (n *navigator) Route() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.route
}
