package ecfr

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

const titlesPayload = `{"titles":[{"number":14,"up_to_date_as_of":"2025-06-01","latest_issue_date":"2025-05-28"}]}`

func newTestServer(t *testing.T, titleHits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/versioner/v1/titles.json", func(w http.ResponseWriter, r *http.Request) {
		if titleHits != nil {
			atomic.AddInt32(titleHits, 1)
		}
		fmt.Fprint(w, titlesPayload)
	})
	mux.HandleFunc("/api/versioner/v1/full/2025-06-01/title-14.xml", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("section") {
		case "25.629":
			fmt.Fprint(w, `<DIV8 TYPE="SECTION" N="25.629">
<P>§ 25.629 Aeroelastic stability requirements.</P>
<P>The aeroelastic stability evaluations required under this section include flutter.</P>
<P>The airplane must be free from aeroelastic instability.</P>
</DIV8>`)
		case "25.1":
			fmt.Fprint(w, `<DIV8><P>Text without a symbol heading.</P></DIV8>`)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLatestDateMemoized(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	c := NewClient(srv.URL, srv.Client())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		date, err := c.LatestDate(ctx, 14)
		require.NoError(t, err)
		require.Equal(t, "2025-06-01", date)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))

	_, err := c.LatestDate(ctx, 99)
	require.Error(t, err)
}

func TestFetchSection(t *testing.T) {
	srv := newTestServer(t, nil)
	c := NewClient(srv.URL, srv.Client())
	ctx := context.Background()

	sec, err := c.FetchSection(ctx, 14, 25, "25.629")
	require.NoError(t, err)
	require.NotNil(t, sec)
	require.Equal(t, 14, sec.Title)
	require.Equal(t, 25, sec.Part)
	require.Equal(t, "§ 25.629 Aeroelastic stability requirements.", sec.Heading)
	require.Contains(t, sec.Text, "free from aeroelastic instability")
	require.NotContains(t, sec.Text, "§ 25.629")
	require.Equal(t, "2025-06-01", sec.EffectiveDate)

	// heading is optional
	sec, err = c.FetchSection(ctx, 14, 25, "25.1")
	require.NoError(t, err)
	require.NotNil(t, sec)
	require.Empty(t, sec.Heading)

	// missing section is not an error
	sec, err = c.FetchSection(ctx, 14, 25, "25.999")
	require.NoError(t, err)
	require.Nil(t, sec)

	// malformed identifier is rejected before any request
	sec, err = c.FetchSection(ctx, 14, 25, "not a section")
	require.NoError(t, err)
	require.Nil(t, sec)
}

func TestFetchSections(t *testing.T) {
	srv := newTestServer(t, nil)
	c := NewClient(srv.URL, srv.Client())

	got := c.FetchSections(context.Background(), 14, []string{"25.629", "bogus", "25.999", "25.1"})
	require.Len(t, got, 2)
	sections := []string{got[0].Section, got[1].Section}
	require.Contains(t, sections, "25.629")
	require.Contains(t, sections, "25.1")
}

func TestSearchFailureReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	results := c.Search(context.Background(), "flutter", 14, 25)
	require.NotNil(t, results)
	require.Empty(t, results)
}

func TestSplitSectionText(t *testing.T) {
	heading, body := splitSectionText("\n  § 21.101   Designation.  \nFirst   paragraph.\n\nSecond paragraph.\n")
	require.Equal(t, "§ 21.101 Designation.", heading)
	require.Equal(t, "First paragraph.\nSecond paragraph.", body)

	heading, body = splitSectionText("only body text")
	require.Empty(t, heading)
	require.Equal(t, "only body text", body)
}

func TestPartOfSection(t *testing.T) {
	for _, tc := range []struct {
		in   string
		part int
		ok   bool
	}{
		{"25.629", 25, true},
		{"21.101", 21, true},
		{"part 25", 0, false},
		{"", 0, false},
		{"25", 0, false},
	} {
		part, ok := partOfSection(tc.in)
		if ok != tc.ok || part != tc.part {
			t.Fatalf("partOfSection(%q) = (%d, %v), want (%d, %v)", tc.in, part, ok, tc.part, tc.ok)
		}
	}
}
