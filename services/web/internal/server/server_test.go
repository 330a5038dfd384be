package server

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"bookreview/pkg/auth"
	"bookreview/pkg/domain"
	"bookreview/pkg/mail"
	"bookreview/pkg/storage"
	"bookreview/pkg/store"
	"bookreview/services/web/internal/app"
	"bookreview/services/web/internal/forms"
	"bookreview/services/web/internal/notify"
)

const testPassword = "correct-horse-42"

type testEnv struct {
	srv    *httptest.Server
	store  *store.MemoryStore
	outbox *mail.Outbox
	covers *storage.MemoryStore
}

func newTestEnv(t *testing.T, configure ...func(*Config)) *testEnv {
	t.Helper()
	s := store.NewMemoryStore()
	sessions, err := store.NewJWTSessionStore(strings.Repeat("s", 32), time.Hour, store.NewMemoryTokenRevoker())
	require.NoError(t, err)
	outbox := &mail.Outbox{}
	covers := storage.NewMemoryStore("http://covers.test")
	notifier := notify.New(notify.Config{
		From:    "noreply@example.com",
		Admins:  []string{"ops@example.com"},
		SiteURL: "http://bookreview.test",
		Routes:  Routes{},
	}, s, outbox)
	a, err := app.New(app.Config{Store: s, Sessions: sessions, Events: notifier, Covers: covers})
	require.NoError(t, err)

	cfg := Config{App: a, Flashes: store.NewMemoryFlashStore()}
	for _, fn := range configure {
		fn(&cfg)
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{srv: ts, store: s, outbox: outbox, covers: covers}
}

func (e *testEnv) user(t *testing.T, username string, role domain.UserRole) domain.User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	u := domain.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         role,
		Status:       domain.StatusActive,
	}
	require.NoError(t, e.store.CreateUser(&u))
	return u
}

func (e *testEnv) book(t *testing.T, title, author string) domain.Book {
	t.Helper()
	b := domain.Book{Title: title, Author: author}
	require.NoError(t, e.store.CreateBook(&b))
	return b
}

func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (e *testEnv) login(t *testing.T, c *http.Client, username string) {
	t.Helper()
	resp := e.post(t, c, "/login/", url.Values{"username": {username}, "password": {testPassword}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode, "login %s", username)
}

func (e *testEnv) get(t *testing.T, c *http.Client, path string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (e *testEnv) post(t *testing.T, c *http.Client, path string, values url.Values) *http.Response {
	t.Helper()
	resp, err := c.PostForm(e.srv.URL+path, values)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.get(t, env.client(t), "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestHomeShowsFeaturedBooks(t *testing.T) {
	env := newTestEnv(t)
	for _, title := range []string{"Dune", "Emma", "Ulysses", "Walden"} {
		env.book(t, title, "Someone")
	}
	resp, body := env.get(t, env.client(t), "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Dune")
	assert.Contains(t, body, "Ulysses")
	assert.NotContains(t, body, "Walden")
}

func TestBookListPagination(t *testing.T) {
	env := newTestEnv(t)
	for _, title := range []string{"Dune", "Emma", "Ulysses", "Walden"} {
		env.book(t, title, "Someone")
	}
	c := env.client(t)

	resp, body := env.get(t, c, "/books/?page=2")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Walden")
	assert.Contains(t, body, "Page 2 of 2.")

	resp, body = env.get(t, c, "/books/?page=last")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Walden")

	for _, page := range []string{"3", "0", "abc"} {
		resp, _ = env.get(t, c, "/books/?page="+page)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "page %s", page)
	}
}

func TestBookListSearchMatchesTitleOrAuthor(t *testing.T) {
	env := newTestEnv(t)
	env.book(t, "Dune", "Frank Herbert")
	env.book(t, "Emma", "Jane Austen")
	env.book(t, "Persuasion", "Jane Austen")
	c := env.client(t)

	resp, body := env.get(t, c, "/books/?q=austen")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Emma")
	assert.Contains(t, body, "Persuasion")
	assert.NotContains(t, body, ">Dune<")
	assert.Contains(t, body, `value="austen"`)

	resp, body = env.get(t, c, "/books/?q=nothing-matches")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "No books found.")
}

func TestBookDetailNotFound(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	for _, path := range []string{"/books/999/", "/books/abc/", "/no-such-page/"} {
		resp, _ := env.get(t, c, path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestBookDetailShowsAverageAndReviews(t *testing.T) {
	env := newTestEnv(t)
	book := env.book(t, "Dune", "Herbert")
	alice := env.user(t, "alice", domain.RoleUser)
	bob := env.user(t, "bob", domain.RoleUser)
	require.NoError(t, env.store.CreateReview(&domain.Review{BookID: book.ID, UserID: alice.ID, Rating: 4, Comment: "spice"}))
	require.NoError(t, env.store.CreateReview(&domain.Review{BookID: book.ID, UserID: bob.ID, Rating: 5, Comment: "worms"}))

	resp, body := env.get(t, env.client(t), book.URLPath())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Average rating: 4.5 / 5")
	assert.Contains(t, body, "spice")
	assert.Contains(t, body, "worms")
}

func TestReviewAddRedirectsAnonymousToLogin(t *testing.T) {
	env := newTestEnv(t)
	book := env.book(t, "Dune", "Herbert")

	resp, _ := env.get(t, env.client(t), "/books/"+itoa(book.ID)+"/reviews/add/")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login/?next="+url.QueryEscape("/books/"+itoa(book.ID)+"/reviews/add/"), resp.Header.Get("Location"))

	resp, _ = env.get(t, env.client(t), "/books/999/reviews/add/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.post(t, env.client(t), "/books/999/reviews/add/", url.Values{"rating": {"3"}, "comment": {"ok"}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReviewAddFlow(t *testing.T) {
	env := newTestEnv(t)
	book := env.book(t, "Dune", "Herbert")
	env.user(t, "alice", domain.RoleUser)
	c := env.client(t)
	env.login(t, c, "alice")

	addPath := "/books/" + itoa(book.ID) + "/reviews/add/"
	resp := env.post(t, c, addPath, url.Values{"rating": {"4"}, "comment": {"Great read"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, book.URLPath(), resp.Header.Get("Location"))

	_, body := env.get(t, c, book.URLPath())
	assert.Contains(t, body, "Review added successfully.")
	assert.Contains(t, body, "Great read")

	msgs := env.outbox.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"ops@example.com"}, msgs[0].To)
	assert.Contains(t, msgs[0].Body, "http://bookreview.test"+book.URLPath())

	// the flash is shown once
	_, body = env.get(t, c, book.URLPath())
	assert.NotContains(t, body, "Review added successfully.")

	resp = env.post(t, c, addPath, url.Values{"rating": {"2"}, "comment": {"again"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), forms.MsgDuplicateReview)
}

func TestReviewCommentKeptAsTyped(t *testing.T) {
	env := newTestEnv(t)
	book := env.book(t, "Dune", "Herbert")
	comments := map[string]string{
		"alice": "Better than book 1 but x<y and the ending drags",
		"bob":   "<loved it>",
	}
	for username, comment := range comments {
		env.user(t, username, domain.RoleUser)
		c := env.client(t)
		env.login(t, c, username)
		resp := env.post(t, c, "/books/"+itoa(book.ID)+"/reviews/add/", url.Values{"rating": {"4"}, "comment": {comment}})
		require.Equal(t, http.StatusSeeOther, resp.StatusCode, username)
	}

	reviews, err := env.store.ListReviewsByBook(book.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	for _, r := range reviews {
		assert.Equal(t, comments[r.Username], r.Comment)
	}

	_, body := env.get(t, env.client(t), book.URLPath())
	assert.NotContains(t, body, "<loved it>")
	assert.ElementsMatch(t, []string{comments["alice"], comments["bob"]}, textOfClass(t, body, "comment"))

	found := false
	for _, msg := range env.outbox.Messages() {
		if strings.Contains(msg.Body, "Reviewer: bob") {
			found = true
			assert.Contains(t, msg.Body, "Comment: <loved it>\n")
		}
	}
	assert.True(t, found)
}

// textOfClass returns the text content of every element carrying class.
func textOfClass(t *testing.T, page, class string) []string {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(page))
	require.NoError(t, err)
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key == "class" && a.Val == class {
					var b strings.Builder
					for c := n.FirstChild; c != nil; c = c.NextSibling {
						if c.Type == html.TextNode {
							b.WriteString(c.Data)
						}
					}
					out = append(out, b.String())
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func TestReviewAddValidation(t *testing.T) {
	env := newTestEnv(t)
	book := env.book(t, "Dune", "Herbert")
	env.user(t, "alice", domain.RoleUser)
	c := env.client(t)
	env.login(t, c, "alice")
	addPath := "/books/" + itoa(book.ID) + "/reviews/add/"

	resp := env.post(t, c, addPath, url.Values{"rating": {"9"}, "comment": {"too much"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Ensure this value is less than or equal to 5.")

	resp = env.post(t, c, addPath, url.Values{"rating": {"x"}, "comment": {"hm"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), forms.MsgWholeNumber)

	resp = env.post(t, c, "/books/999/reviews/add/", url.Values{"rating": {"3"}, "comment": {"ok"}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, env.outbox.Messages())
}

func TestEditReviewOnlyByAuthor(t *testing.T) {
	env := newTestEnv(t)
	book := env.book(t, "Dune", "Herbert")
	alice := env.user(t, "alice", domain.RoleUser)
	env.user(t, "staff", domain.RoleStaff)
	review := domain.Review{BookID: book.ID, UserID: alice.ID, Rating: 3, Comment: "fine"}
	require.NoError(t, env.store.CreateReview(&review))
	editPath := "/reviews/" + itoa(review.ID) + "/edit/"

	staff := env.client(t)
	env.login(t, staff, "staff")
	resp, _ := env.get(t, staff, editPath)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	author := env.client(t)
	env.login(t, author, "alice")
	resp, body := env.get(t, author, editPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "fine")

	post := env.post(t, author, editPath, url.Values{"rating": {"5"}, "comment": {"better on reread"}})
	require.Equal(t, http.StatusSeeOther, post.StatusCode)
	assert.Equal(t, book.URLPath(), post.Header.Get("Location"))

	got, ok, err := env.store.GetReview(review.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, got.Rating)
	assert.Equal(t, "better on reread", got.Comment)
	// updates do not notify
	assert.Empty(t, env.outbox.Messages())
}

func TestDeleteReviewForbiddenForOtherUsers(t *testing.T) {
	env := newTestEnv(t)
	book := env.book(t, "Dune", "Herbert")
	alice := env.user(t, "alice", domain.RoleUser)
	env.user(t, "bob", domain.RoleUser)
	env.user(t, "staff", domain.RoleStaff)
	review := domain.Review{BookID: book.ID, UserID: alice.ID, Rating: 3, Comment: "fine"}
	require.NoError(t, env.store.CreateReview(&review))
	deletePath := "/reviews/" + itoa(review.ID) + "/delete/"

	bob := env.client(t)
	env.login(t, bob, "bob")
	resp := env.post(t, bob, deletePath, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_, ok, err := env.store.GetReview(review.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	staff := env.client(t)
	env.login(t, staff, "staff")
	getResp, body := env.get(t, staff, deletePath)
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	assert.Contains(t, body, "Are you sure")

	resp = env.post(t, staff, deletePath, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/books/", resp.Header.Get("Location"))
	_, ok, err = env.store.GetReview(review.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, body = env.get(t, staff, "/books/")
	assert.Contains(t, body, "Review deleted successfully.")
}

func TestSignupFlow(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	form := url.Values{
		"username":  {"carol"},
		"email":     {"carol@example.com"},
		"password1": {"s3cure-Passw0rd"},
		"password2": {"s3cure-Passw0rd"},
	}

	resp := env.post(t, c, "/signup/", form)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login/", resp.Header.Get("Location"))

	_, body := env.get(t, c, "/login/")
	assert.Contains(t, body, "Account created. A welcome email was sent to your address.")

	msgs := env.outbox.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Welcome to BookReview", msgs[0].Subject)
	assert.Equal(t, []string{"carol@example.com"}, msgs[0].To)
	assert.Equal(t, 1, env.store.ProfileCount())

	resp = env.post(t, c, "/signup/", form)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), forms.MsgUsernameTaken)
}

func TestSignupWelcomeFailureIsAWarning(t *testing.T) {
	env := newTestEnv(t)
	env.outbox.Err = assert.AnError
	c := env.client(t)

	resp := env.post(t, c, "/signup/", url.Values{
		"username":  {"dave"},
		"email":     {"dave@example.com"},
		"password1": {"s3cure-Passw0rd"},
		"password2": {"s3cure-Passw0rd"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	_, body := env.get(t, c, "/login/")
	assert.Contains(t, body, `class="warning"`)
	assert.Contains(t, body, "Account created, but we couldn")

	_, ok, err := env.store.GetUserByUsername("dave")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "alice", domain.RoleUser)
	c := env.client(t)

	resp := env.post(t, c, "/login/", url.Values{"username": {"alice"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), forms.MsgBadCredentials)
}

func TestLoginRedirectsToSafeNext(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "alice", domain.RoleUser)

	resp := env.post(t, env.client(t), "/login/", url.Values{"username": {"alice"}, "password": {testPassword}, "next": {"/books/"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/books/", resp.Header.Get("Location"))

	resp = env.post(t, env.client(t), "/login/", url.Values{"username": {"alice"}, "password": {testPassword}, "next": {"//evil.example"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestCrossOriginPostRejected(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "alice", domain.RoleUser)

	form := url.Values{"username": {"alice"}, "password": {testPassword}}
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/login/", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	resp, err := env.client(t).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, resp.Cookies())

	req, err = http.NewRequest(http.MethodGet, env.srv.URL+"/login/", nil)
	require.NoError(t, err)
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	page, err := env.client(t).Do(req)
	require.NoError(t, err)
	defer page.Body.Close()
	assert.Equal(t, http.StatusOK, page.StatusCode)
}

func TestSessionCookieAttributes(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "alice", domain.RoleUser)

	resp := env.post(t, env.client(t), "/login/", url.Values{"username": {"alice"}, "password": {testPassword}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, session.SameSite)
	assert.NotEmpty(t, session.Value)
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)
	book := env.book(t, "Dune", "Herbert")
	env.user(t, "alice", domain.RoleUser)
	c := env.client(t)
	env.login(t, c, "alice")

	base, err := url.Parse(env.srv.URL)
	require.NoError(t, err)
	var token string
	for _, ck := range c.Jar.Cookies(base) {
		if ck.Name == sessionCookie {
			token = ck.Value
		}
	}
	require.NotEmpty(t, token)

	resp := env.post(t, c, "/logout/", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	// replay the old token after logout
	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/books/"+itoa(book.ID)+"/reviews/add/", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	replay, err := env.client(t).Do(req)
	require.NoError(t, err)
	defer replay.Body.Close()
	assert.Equal(t, http.StatusFound, replay.StatusCode)
	assert.True(t, strings.HasPrefix(replay.Header.Get("Location"), "/login/"))
}

func TestRoutesReverse(t *testing.T) {
	path, err := Routes{}.Reverse(RouteBookDetail, "7")
	require.NoError(t, err)
	assert.Equal(t, "/books/7/", path)

	path, err = Routes{}.Reverse(RouteReviewAdd, "7")
	require.NoError(t, err)
	assert.Equal(t, "/books/7/reviews/add/", path)

	_, err = Routes{}.Reverse(RouteBookDetail)
	assert.Error(t, err)
	_, err = Routes{}.Reverse(RouteHome, "1")
	assert.Error(t, err)
	_, err = Routes{}.Reverse("missing")
	assert.Error(t, err)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
