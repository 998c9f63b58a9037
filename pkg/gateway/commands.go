package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/entrhq/capture/pkg/cookies"
	"github.com/entrhq/capture/pkg/session"
	"github.com/entrhq/capture/pkg/types"
)

// Wire names of the built-in commands.
const (
	CmdCreate            = "create"
	CmdDestroy           = "destroy"
	CmdNavigate          = "navigate"
	CmdGoBack            = "goBack"
	CmdGoForward         = "goForward"
	CmdReload            = "reload"
	CmdSetBounds         = "setBounds"
	CmdGetCookies        = "getCookies"
	CmdExportForArchival = "exportForArchival"
	CmdState             = "state"
	CmdHandoff           = "handoff"
)

type navigateArgs struct {
	URL string `json:"url"`
}

type domainArgs struct {
	Domain string `json:"domain"`
}

type handoffArgs struct {
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// CreateResult is the data of a create response.
type CreateResult struct {
	ID string `json:"id"`
}

// HandoffResult is what the archival service needs to capture a page with the
// session's credentials.
type HandoffResult struct {
	URL        string `json:"url"`
	CookieFile string `json:"cookieFile"`
	Cookies    int    `json:"cookies"`
}

func (g *Gateway) builtins() []Command {
	return []Command{
		NewCommand(CmdCreate, "Create the browsing session", g.create),
		NewCommand(CmdDestroy, "Destroy the browsing session", g.destroy),
		NewCommand(CmdNavigate, "Load a URL; bare hosts get https://", g.navigate),
		NewCommand(CmdGoBack, "Step back in history", g.goBack),
		NewCommand(CmdGoForward, "Step forward in history", g.goForward),
		NewCommand(CmdReload, "Reload the current page", g.reload),
		NewCommand(CmdSetBounds, "Place the view at {x, y, width, height}", g.setBounds),
		NewCommand(CmdGetCookies, "List the partition's cookies for a domain", g.getCookies),
		NewCommand(CmdExportForArchival, "Export a domain's cookies in the archival format", g.exportForArchival),
		NewCommand(CmdState, "Snapshot of the session", g.state),
		NewCommand(CmdHandoff, "Write a domain's cookie file for the archival service", g.handoff),
	}
}

func (g *Gateway) create(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := g.ctrl.Create(ctx); err != nil {
		return nil, err
	}
	return CreateResult{ID: g.ctrl.ID()}, nil
}

func (g *Gateway) destroy(context.Context, json.RawMessage) (any, error) {
	g.ctrl.Destroy()
	return nil, nil
}

func (g *Gateway) navigate(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[navigateArgs](CmdNavigate, raw)
	if err != nil {
		return nil, err
	}
	if g.cfg.LazyCreate && !g.ctrl.IsCreated() {
		g.log.Infof("creating session on first navigate")
		if err := g.ctrl.Create(ctx); err != nil {
			return nil, err
		}
	}
	return nil, g.ctrl.Navigate(ctx, args.URL)
}

func (g *Gateway) goBack(ctx context.Context, _ json.RawMessage) (any, error) {
	return nil, g.ctrl.GoBack(ctx)
}

func (g *Gateway) goForward(ctx context.Context, _ json.RawMessage) (any, error) {
	return nil, g.ctrl.GoForward(ctx)
}

func (g *Gateway) reload(ctx context.Context, _ json.RawMessage) (any, error) {
	return nil, g.ctrl.Reload(ctx)
}

func (g *Gateway) setBounds(ctx context.Context, raw json.RawMessage) (any, error) {
	rect, err := decodeArgs[types.Rect](CmdSetBounds, raw)
	if err != nil {
		return nil, err
	}
	if rect.Width <= 0 || rect.Height <= 0 {
		return nil, &ArgumentError{Command: CmdSetBounds, Err: fmt.Errorf("width and height must be positive, got %dx%d", rect.Width, rect.Height)}
	}
	return nil, g.ctrl.SetBounds(ctx, rect)
}

func (g *Gateway) getCookies(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[domainArgs](CmdGetCookies, raw)
	if err != nil {
		return nil, err
	}
	return g.exporter.GetCookies(ctx, args.Domain), nil
}

func (g *Gateway) exportForArchival(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[domainArgs](CmdExportForArchival, raw)
	if err != nil {
		return nil, err
	}
	return g.exporter.ExportForArchival(ctx, args.Domain), nil
}

func (g *Gateway) state(context.Context, json.RawMessage) (any, error) {
	return g.ctrl.State(), nil
}

func (g *Gateway) handoff(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[handoffArgs](CmdHandoff, raw)
	if err != nil {
		return nil, err
	}
	if !g.ctrl.IsCreated() {
		return nil, session.ErrNotInitialized
	}

	domain := cookies.NormalizeDomain(args.Domain)
	if domain == "" {
		return nil, &ArgumentError{Command: CmdHandoff, Err: errors.New("domain is required")}
	}
	path, err := cookies.ResolveHandoffPath(g.cfg.HandoffDir, args.Path, domain)
	if err != nil {
		return nil, &ArgumentError{Command: CmdHandoff, Err: err}
	}

	records := g.exporter.GetCookies(ctx, domain)
	if err := cookies.WriteFile(path, cookies.Format(records)); err != nil {
		return nil, err
	}
	if len(records) > 0 {
		g.metrics.CookieExport()
	}
	g.log.Infof("handed off %d cookies for %s to %s", len(records), domain, path)
	return HandoffResult{
		URL:        g.ctrl.State().CurrentURL,
		CookieFile: path,
		Cookies:    len(records),
	}, nil
}
