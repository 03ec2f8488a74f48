package tools

import (
	"context"
)

// Policy decides a confirmation request. ctx ends when the request expires.
type Policy func(ctx context.Context, req Request) (approved bool, err error)

// AutoApprove approves every request.
func AutoApprove(context.Context, Request) (bool, error) { return true, nil }

// AutoReject rejects every request.
func AutoReject(context.Context, Request) (bool, error) { return false, nil }

// Serve answers the gate's notifications with policy until ctx ends.
// Requests are handled one at a time, in arrival order.
func Serve(ctx context.Context, g *Gate, policy Policy) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-g.Notifications():
			switch n.Type {
			case NotificationRequired:
				answer(ctx, g, policy, n.Request)
			case NotificationExpired:
				g.logger.Debug("confirmation expired before an answer", "id", n.ID)
			}
		}
	}
}

func answer(ctx context.Context, g *Gate, policy Policy, req Request) {
	reqCtx, cancel := context.WithDeadline(ctx, req.ExpiresAt)
	defer cancel()

	approved, err := policy(reqCtx, req)
	if err != nil {
		g.logger.Warn("confirmation policy failed, rejecting", "tool", req.ToolName, "error", err)
		approved = false
	}
	if !g.Respond(req.ID, approved) {
		g.logger.Debug("confirmation already resolved", "id", req.ID, "tool", req.ToolName, "approved", approved)
	}
}
