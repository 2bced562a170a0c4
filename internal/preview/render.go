package preview

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/listingwatch/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 0, 0, 2)

	fieldStyle = lipgloss.NewStyle().
			Padding(0, 0, 0, 4)

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("70")).
			Padding(0, 0, 0, 4)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// RenderListings writes the listings found for one job.
func RenderListings(w io.Writer, jobKey string, listings []model.Listing) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s: %d listing(s)", jobKey, len(listings))))
	if len(listings) == 0 {
		fmt.Fprintln(w, hintStyle.Render("  nothing matched"))
		fmt.Fprintln(w)
		return
	}
	for _, l := range listings {
		fmt.Fprintln(w, titleStyle.Render(l.Title))
		fmt.Fprintln(w, fieldStyle.Render(strings.Join(nonEmpty(l.Price, l.Size, l.Address), " · ")))
		if d := details(l); d != "" {
			fmt.Fprintln(w, detailStyle.Render(d))
		}
		fmt.Fprintln(w, fieldStyle.Render(hintStyle.Render(l.Link)))
	}
	fmt.Fprintln(w)
}

// JobRow is one line of the jobs table.
type JobRow struct {
	Key      string
	Provider string
	Interval time.Duration
	Details  bool
	Channels []string
	Enabled  bool
}

// RenderJobs writes a table of configured jobs followed by a summary line.
func RenderJobs(w io.Writer, rows []JobRow) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-20s %-12s %-10s %-8s %-20s %s", "Job", "Provider", "Interval", "Details", "Channels", "Status")))
	fmt.Fprintln(w, strings.Repeat("─", 82))

	enabled := 0
	for _, r := range rows {
		status := "disabled"
		if r.Enabled {
			status = "enabled"
			enabled++
		}
		details := "no"
		if r.Details {
			details = "yes"
		}
		fmt.Fprintf(w, "%-20s %-12s %-10s %-8s %-20s %s\n",
			r.Key, r.Provider, r.Interval.String(), details, strings.Join(r.Channels, ","), status)
	}

	fmt.Fprintf(w, "\nTotal: %d jobs (%d enabled, %d disabled)\n", len(rows), enabled, len(rows)-enabled)
}

func details(l model.Listing) string {
	e := l.Enrichment
	if e == nil {
		return ""
	}
	var parts []string
	if e.RoomCount != nil {
		parts = append(parts, fmt.Sprintf("%d rooms", *e.RoomCount))
	}
	if e.Suburb != nil {
		parts = append(parts, *e.Suburb)
	}
	if e.Salutation != nil {
		parts = append(parts, "contact: "+string(e.Salutation.Gender)+" "+e.Salutation.LastName)
	}
	if e.Geohash != "" {
		parts = append(parts, "geohash "+e.Geohash)
	}
	return strings.Join(parts, " · ")
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
