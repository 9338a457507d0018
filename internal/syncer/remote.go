package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/driftq/driftq/internal/domain"
)

// ErrRemoteGone is returned when the remote entity no longer exists while
// a local edit is pending. For updates this is an unresolvable conflict;
// for deletes it just means the work is already done.
var ErrRemoteGone = fmt.Errorf("%w: remote entity gone", domain.ErrUnresolvableConflict)

// ConflictError carries the current server resource attached to a
// conflict response, for the resolver to arbitrate against.
type ConflictError struct {
	Server *domain.Task
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: server at version %d", e.Server.Version)
}

// Unwrap classifies the conflict under domain.ErrConflict.
func (e *ConflictError) Unwrap() error { return domain.ErrConflict }

// RemoteClient is the sync pipeline's view of the remote endpoint. Push
// performs the operation's remote-side effect and returns the resulting
// authoritative resource (nil for deletions).
type RemoteClient interface {
	Push(ctx context.Context, op *Operation) (*domain.Task, error)
}

// HTTPRemote implements RemoteClient against the task endpoint contract:
// POST /tasks, PUT /tasks/{id}, DELETE /tasks/{id}, each carrying the
// expected version for optimistic concurrency and answering 200 with the
// authoritative resource or 409 with the current server resource.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRemote creates a client for the endpoint at baseURL. Per-call
// deadlines come from the caller's context; the underlying http.Client
// carries no timeout of its own.
func NewHTTPRemote(baseURL string, client *http.Client) *HTTPRemote {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRemote{baseURL: baseURL, client: client}
}

// Push executes the remote call for one operation.
func (r *HTTPRemote) Push(ctx context.Context, op *Operation) (*domain.Task, error) {
	var (
		method string
		url    string
		body   io.Reader
	)

	switch op.Kind {
	case KindCreate:
		method = http.MethodPost
		url = r.baseURL + "/tasks"
	case KindUpdate:
		method = http.MethodPut
		url = r.baseURL + "/tasks/" + op.TaskID.String()
	case KindDelete:
		method = http.MethodDelete
		url = r.baseURL + "/tasks/" + op.TaskID.String() +
			"?version=" + strconv.FormatInt(op.Payload.Version, 10)
	default:
		return nil, fmt.Errorf("%w: unknown operation kind %q", domain.ErrValidation, op.Kind)
	}

	if op.Kind != KindDelete {
		encoded, err := json.Marshal(op.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding payload: %v", domain.ErrValidation, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", domain.ErrValidation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		// Transport failures and deadline expiry are both transient.
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return decodeResponse(resp)
}

func decodeResponse(resp *http.Response) (*domain.Task, error) {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if resp.ContentLength == 0 {
			return nil, nil
		}
		var task domain.Task
		if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: decoding response: %v", domain.ErrRemoteServer, err)
		}
		return &task, nil

	case resp.StatusCode == http.StatusNoContent:
		return nil, nil

	case resp.StatusCode == http.StatusConflict:
		var server domain.Task
		if err := json.NewDecoder(resp.Body).Decode(&server); err != nil {
			return nil, fmt.Errorf("%w: conflict without server resource: %v", domain.ErrRemoteServer, err)
		}
		return nil, &ConflictError{Server: &server}

	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, ErrRemoteGone

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: remote throttled the call", domain.ErrRateLimitTimeout)

	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", domain.ErrRemoteServer, resp.StatusCode)

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", domain.ErrValidation, resp.StatusCode)

	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrValidation, resp.StatusCode, msg)
	}
}

// callTimeoutContext derives the per-call deadline used around a single
// remote attempt.
func callTimeoutContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
