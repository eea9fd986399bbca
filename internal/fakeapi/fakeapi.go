// Package fakeapi is an in-memory bookshelf API. Tests point the client at
// it through httptest, and `bookshelf fake-server` serves it for local use.
package fakeapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

type Book struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	CoverImageURL string `json:"coverImageUrl,omitempty"`
	PageCount     int    `json:"pageCount,omitempty"`
	Publisher     string `json:"publisher,omitempty"`
	Synopsis      string `json:"synopsis,omitempty"`
}

type ListItem struct {
	ID         string `json:"id"`
	BookID     string `json:"bookId"`
	OwnerID    string `json:"ownerId"`
	StartDate  int64  `json:"startDate"`
	FinishDate *int64 `json:"finishDate"`
	Notes      string `json:"notes"`
	Rating     int    `json:"rating"`
	Book       *Book  `json:"book,omitempty"`
}

type account struct {
	user     User
	password string
}

// Failure makes the next matching requests fail.
type Failure struct {
	Status  int
	Message string
	Times   int // 0 => once
}

// Server holds users, books and list items in memory.
type Server struct {
	mu        sync.Mutex
	accounts  map[string]*account // by username
	byToken   map[string]*account
	books     []Book
	listItems map[string]ListItem
	failures  map[string]*Failure // "METHOD /route/pattern"
	hits      map[string]int
	now       func() time.Time
	router    chi.Router
}

func New(books ...Book) *Server {
	if len(books) == 0 {
		books = DefaultBooks()
	}
	s := &Server{
		accounts:  make(map[string]*account),
		byToken:   make(map[string]*account),
		books:     append([]Book(nil), books...),
		listItems: make(map[string]ListItem),
		failures:  make(map[string]*Failure),
		hits:      make(map[string]int),
		now:       time.Now,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.injectFailures)

	r.Post("/login", s.login)
	r.Post("/register", s.register)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/me", s.me)
		r.Get("/books", s.searchBooks)
		r.Get("/books/{bookID}", s.getBook)
		r.Get("/list-items", s.listListItems)
		r.Post("/list-items", s.createListItem)
		r.Put("/list-items/{itemID}", s.updateListItem)
		r.Delete("/list-items/{itemID}", s.deleteListItem)
	})
	return r
}

// Fail registers a failure for route, e.g. Fail("PUT /list-items/{itemID}", ...).
func (s *Server) Fail(route string, f Failure) {
	if f.Times <= 0 {
		f.Times = 1
	}
	s.mu.Lock()
	s.failures[route] = &f
	s.mu.Unlock()
}

// Hits returns how many requests reached route, failed ones included.
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// AddUser creates an account and returns its token.
func (s *Server) AddUser(username, password string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, password)
}

// RevokeTokens makes every issued token invalid, so the next request is a 401.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byToken = make(map[string]*account)
}

// ListItems returns the stored items of the given user, sorted by id.
func (s *Server) ListItems(ownerID string) []ListItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemsOfLocked(ownerID)
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx := chi.NewRouteContext()
		route := r.URL.Path
		if s.router.Match(rctx, r.Method, r.URL.Path) {
			route = rctx.RoutePattern()
		}
		key := r.Method + " " + route

		s.mu.Lock()
		s.hits[key]++
		f := s.failures[key]
		var fail Failure
		if f != nil {
			fail = *f
			if f.Times--; f.Times <= 0 {
				delete(s.failures, key)
			}
		}
		s.mu.Unlock()

		if f != nil {
			writeError(w, fail.Status, fail.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey struct{}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		acc := s.byToken[token]
		s.mu.Unlock()
		if !ok || acc == nil {
			writeError(w, http.StatusUnauthorized, "A token must be provided")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), acc.user)))
	})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if !decode(w, r, &c) {
		return
	}
	s.mu.Lock()
	acc := s.accounts[c.Username]
	if acc == nil || acc.password != c.Password {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "Invalid username or password")
		return
	}
	acc.user.Token = newID()
	s.byToken[acc.user.Token] = acc
	u := acc.user
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if !decode(w, r, &c) {
		return
	}
	if c.Username == "" || c.Password == "" {
		writeError(w, http.StatusBadRequest, "A username and password are required")
		return
	}
	s.mu.Lock()
	if _, taken := s.accounts[c.Username]; taken {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "Cannot create a new user with the username \""+c.Username+"\"")
		return
	}
	u := s.addUserLocked(c.Username, c.Password)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (s *Server) searchBooks(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("query")))
	s.mu.Lock()
	out := make([]Book, 0, len(s.books))
	for _, b := range s.books {
		if q == "" || strings.Contains(strings.ToLower(b.Title), q) || strings.Contains(strings.ToLower(b.Author), q) {
			out = append(out, b)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"books": out})
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	b, ok := s.bookLocked(chi.URLParam(r, "bookID"))
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "No book was found with the id of "+chi.URLParam(r, "bookID"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"book": b})
}

func (s *Server) listListItems(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	s.mu.Lock()
	items := s.itemsOfLocked(u.ID)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"listItems": items})
}

func (s *Server) createListItem(w http.ResponseWriter, r *http.Request) {
	var in struct {
		BookID string `json:"bookId"`
	}
	if !decode(w, r, &in) {
		return
	}
	u := userFrom(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookLocked(in.BookID)
	if !ok {
		writeError(w, http.StatusBadRequest, "No book found with the ID of "+in.BookID)
		return
	}
	for _, li := range s.listItems {
		if li.OwnerID == u.ID && li.BookID == in.BookID {
			writeError(w, http.StatusBadRequest, "This user already has a list item for the book with the ID: "+in.BookID)
			return
		}
	}
	li := ListItem{ID: newID(), BookID: b.ID, OwnerID: u.ID, StartDate: s.now().UnixMilli()}
	s.listItems[li.ID] = li
	li.Book = &b
	writeJSON(w, http.StatusOK, map[string]any{"listItem": li})
}

func (s *Server) updateListItem(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	id := chi.URLParam(r, "itemID")

	var patch map[string]json.RawMessage
	if !decode(w, r, &patch) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	li, ok := s.listItems[id]
	if !ok || li.OwnerID != u.ID {
		writeError(w, http.StatusNotFound, "No list item was found with the id of "+id)
		return
	}
	// apply only the fields present in the patch; null clears finishDate
	for field, raw := range patch {
		var err error
		switch field {
		case "finishDate":
			li.FinishDate = nil
			err = json.Unmarshal(raw, &li.FinishDate)
		case "startDate":
			err = json.Unmarshal(raw, &li.StartDate)
		case "notes":
			err = json.Unmarshal(raw, &li.Notes)
		case "rating":
			err = json.Unmarshal(raw, &li.Rating)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid value for "+field)
			return
		}
	}
	s.listItems[id] = li
	if b, ok := s.bookLocked(li.BookID); ok {
		li.Book = &b
	}
	writeJSON(w, http.StatusOK, map[string]any{"listItem": li})
}

func (s *Server) deleteListItem(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	id := chi.URLParam(r, "itemID")
	s.mu.Lock()
	defer s.mu.Unlock()
	li, ok := s.listItems[id]
	if !ok || li.OwnerID != u.ID {
		writeError(w, http.StatusNotFound, "No list item was found with the id of "+id)
		return
	}
	delete(s.listItems, id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) addUserLocked(username, password string) User {
	acc := &account{user: User{ID: newID(), Username: username, Token: newID()}, password: password}
	s.accounts[username] = acc
	s.byToken[acc.user.Token] = acc
	return acc.user
}

func (s *Server) bookLocked(id string) (Book, bool) {
	for _, b := range s.books {
		if b.ID == id {
			return b, true
		}
	}
	return Book{}, false
}

func (s *Server) itemsOfLocked(ownerID string) []ListItem {
	out := make([]ListItem, 0)
	for _, li := range s.listItems {
		if li.OwnerID != ownerID {
			continue
		}
		if b, ok := s.bookLocked(li.BookID); ok {
			li.Book = &b
		}
		out = append(out, li)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": http.StatusText(status), "message": msg})
}

func newID() string { return uuid.NewString() }
