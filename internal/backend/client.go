package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/loan"
	"github.com/odyssey-erp/loanbook/internal/platform/httpx"
)

// Client calls the loanbook API over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a client for the API at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

var _ Backend = (*Client)(nil)

// ListBooks returns the books owned by or shared with the session user.
func (c *Client) ListBooks(ctx context.Context, sess auth.Session) ([]loan.Book, error) {
	var books []loan.Book
	err := c.do(ctx, sess, "list books", http.MethodGet, "/api/books", nil, &books)
	return books, err
}

// GetBook loads one book.
func (c *Client) GetBook(ctx context.Context, sess auth.Session, id uuid.UUID) (loan.Book, error) {
	var book loan.Book
	err := c.do(ctx, sess, "get book", http.MethodGet, "/api/books/"+id.String(), nil, &book)
	return book, err
}

// CreateBook creates a book. Entries are not created by the API.
func (c *Client) CreateBook(ctx context.Context, sess auth.Session, in NewBook) (loan.Book, error) {
	var book loan.Book
	err := c.do(ctx, sess, "create book", http.MethodPost, "/api/books", in, &book)
	return book, err
}

// UpdateBook renames a book or changes its principal.
func (c *Client) UpdateBook(ctx context.Context, sess auth.Session, id uuid.UUID, in BookUpdate) (loan.Book, error) {
	var book loan.Book
	err := c.do(ctx, sess, "update book", http.MethodPut, "/api/books/"+id.String(), in, &book)
	return book, err
}

// SetBookStatus closes or reopens a book.
func (c *Client) SetBookStatus(ctx context.Context, sess auth.Session, id uuid.UUID, status loan.BookStatus) (loan.Book, error) {
	var verb string
	switch status {
	case loan.BookClosed:
		verb = "close"
	case loan.BookActive:
		verb = "reopen"
	default:
		return loan.Book{}, &loan.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown book status %q", status)}
	}
	var book loan.Book
	err := c.do(ctx, sess, verb+" book", http.MethodPatch, "/api/books/"+id.String()+"/"+verb, nil, &book)
	return book, err
}

// DeleteBook removes a book and its entries.
func (c *Client) DeleteBook(ctx context.Context, sess auth.Session, id uuid.UUID) error {
	return c.do(ctx, sess, "delete book", http.MethodDelete, "/api/books/"+id.String(), nil, nil)
}

// ListEntries returns a book's entries ordered by serial number.
func (c *Client) ListEntries(ctx context.Context, sess auth.Session, bookID uuid.UUID) ([]loan.Entry, error) {
	var entries []loan.Entry
	err := c.do(ctx, sess, "list entries", http.MethodGet, "/api/entries/book/"+bookID.String(), nil, &entries)
	return entries, err
}

// SaveEntries upserts entries in one transaction and returns them as stored.
func (c *Client) SaveEntries(ctx context.Context, sess auth.Session, bookID uuid.UUID, entries []loan.Entry) ([]loan.Entry, error) {
	var saved []loan.Entry
	body := SaveEntriesRequest{BookID: bookID, Entries: entries}
	err := c.do(ctx, sess, "save entries", http.MethodPost, "/api/entries/bulk", body, &saved)
	return saved, err
}

// RequestSignature asks the other party to countersign an entry.
func (c *Client) RequestSignature(ctx context.Context, sess auth.Session, entryID uuid.UUID) (loan.Entry, error) {
	return c.signature(ctx, sess, entryID, "request-signature")
}

// ApproveSignature countersigns a pending request.
func (c *Client) ApproveSignature(ctx context.Context, sess auth.Session, entryID uuid.UUID) (loan.Entry, error) {
	return c.signature(ctx, sess, entryID, "approve-signature")
}

// RejectSignature declines a pending request.
func (c *Client) RejectSignature(ctx context.Context, sess auth.Session, entryID uuid.UUID) (loan.Entry, error) {
	return c.signature(ctx, sess, entryID, "reject-signature")
}

func (c *Client) signature(ctx context.Context, sess auth.Session, entryID uuid.UUID, verb string) (loan.Entry, error) {
	var entry loan.Entry
	err := c.do(ctx, sess, strings.ReplaceAll(verb, "-", " "), http.MethodPost, "/api/entries/"+entryID.String()+"/"+verb, nil, &entry)
	return entry, err
}

// Share grants userID access to the book.
func (c *Client) Share(ctx context.Context, sess auth.Session, bookID uuid.UUID, userID string) error {
	return c.do(ctx, sess, "share book", http.MethodPost, "/api/books/"+bookID.String()+"/shares", ShareRequest{UserID: userID}, nil)
}

// Unshare revokes userID's access to the book.
func (c *Client) Unshare(ctx context.Context, sess auth.Session, bookID uuid.UUID, userID string) error {
	path := "/api/books/" + bookID.String() + "/shares/" + url.PathEscape(userID)
	return c.do(ctx, sess, "unshare book", http.MethodDelete, path, nil, nil)
}

// ListShares returns the users the book is shared with.
func (c *Client) ListShares(ctx context.Context, sess auth.Session, bookID uuid.UUID) ([]string, error) {
	var resp SharesResponse
	err := c.do(ctx, sess, "list shares", http.MethodGet, "/api/books/"+bookID.String()+"/shares", nil, &resp)
	return resp.Members, err
}

func (c *Client) do(ctx context.Context, sess auth.Session, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess.Token != "" {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return &loan.TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, sess, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &loan.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// statusError maps an API problem response back onto the domain taxonomy.
func statusError(op string, sess auth.Session, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var problem httpx.ProblemDetail
	detail := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &problem); err == nil && (problem.Detail != "" || problem.Title != "") {
		detail = problem.Detail
		if detail == "" {
			detail = problem.Title
		}
	}
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &loan.ValidationError{Reason: fmt.Sprintf("%s: %s", op, detail)}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &loan.AuthorizationError{Actor: sess.UserID, Reason: fmt.Sprintf("%s: %s", op, detail)}
	case http.StatusNotFound:
		return fmt.Errorf("%s: %s: %w", op, detail, loan.ErrNotFound)
	case http.StatusConflict:
		return &loan.StateError{Reason: fmt.Sprintf("%s: %s", op, detail)}
	}
	return &loan.TransportError{Op: op, Err: errors.New(http.StatusText(resp.StatusCode) + ": " + detail)}
}
