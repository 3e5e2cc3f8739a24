package auth

// Renderer is the external rendering collaborator. Containers are opaque
// handles owned by the renderer.
type Renderer interface {
	// Render mounts the widget surface into container, creating one when
	// container is nil, and returns the container handle.
	Render(container any) any
	// Unmount tears down the rendered surface without touching the
	// container itself.
	Unmount(container any)
	// Remove detaches the container from the host page. Not called for
	// embedded widgets, whose container belongs to the host.
	Remove(container any)
	// RenderLink shows the lightweight attribution link served to crawlers
	// instead of the full widget.
	RenderLink()
}

// NoopRenderer is the default renderer for headless hosts.
type NoopRenderer struct{}

var _ Renderer = NoopRenderer{}

func (NoopRenderer) Render(container any) any {
	if container != nil {
		return container
	}
	return struct{}{}
}

func (NoopRenderer) Unmount(any) {}
func (NoopRenderer) Remove(any)  {}
func (NoopRenderer) RenderLink() {}

// Environment describes the host environment, injected rather than sniffed
// from user-agent strings so the core stays deterministic.
type Environment struct {
	// IsAutomatedAgent marks known crawlers; they get the attribution link
	// and no network activity.
	IsAutomatedAgent bool
	// IsHeadlessAgent marks headless test browsers, ignored outside test
	// mode.
	IsHeadlessAgent bool
	IsTestMode      bool
}
