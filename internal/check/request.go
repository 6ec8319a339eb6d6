package check

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/nextlevelbuilder/allow2/internal/transport"
	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

// ChildRequest asks the parent to change today's day type and/or lift bans.
type ChildRequest struct {
	ChildID  int
	DayType  int
	LiftBans []int
	Message  string
}

// Request submits a child request. A revoked pairing is cleared locally and
// reported as ErrNotAuthorised. Cached results are dropped on success since
// the answer to the next check may change.
func (c *Coordinator) Request(ctx context.Context, req ChildRequest) error {
	st := c.store.Snapshot()
	if !st.Paired() {
		return protocol.ErrNotPaired
	}
	childID := req.ChildID
	if childID <= 0 {
		childID = st.ChildID
	}
	if childID <= 0 {
		return protocol.ErrMissingChildID
	}
	if req.DayType <= 0 && len(req.LiftBans) == 0 {
		return ErrEmptyRequest
	}

	body := protocol.ChildRequest{
		UserID:      st.UserID,
		PairToken:   st.PairToken,
		DeviceToken: c.store.Identity().DeviceToken(),
		ChildID:     childID,
		DayType:     req.DayType,
		Lift:        slices.Clone(req.LiftBans),
		Message:     req.Message,
	}
	if body.Lift == nil {
		body.Lift = []int{}
	}

	resp, err := transport.PostJSON(ctx, c.transport, c.store.Identity().APIURL()+protocol.PathRequest, body)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrNoConnection, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.revoke("HTTP 401")
		return protocol.ErrNotAuthorised
	}
	if !resp.OK() {
		return fmt.Errorf("%w: HTTP %d", protocol.ErrNoConnection, resp.StatusCode)
	}

	var status protocol.StatusResponse
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidResponse, err)
	}
	if status.Status != protocol.StatusSuccess {
		if protocol.IsRevocationMessage(status.Message) {
			c.revoke(status.Message)
			return protocol.ErrNotAuthorised
		}
		return &protocol.ServerError{Message: status.Message}
	}

	c.cache.Purge()
	slog.Info("request submitted", "child_id", childID, "day_type", req.DayType, "lift", len(req.LiftBans))
	return nil
}
