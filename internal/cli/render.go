package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/spiralogic/oraclevoice/internal/speech/health"
	"github.com/spiralogic/oraclevoice/internal/speech/history"
	"github.com/spiralogic/oraclevoice/internal/speech/queue"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderJob(w io.Writer, job queue.Job) {
	fmt.Fprintf(w, "%s %s\n", Title.Sprint("job"), job.ID)
	fmt.Fprintf(w, "  %s %s\n", Label.Sprint("status: "), statusColour(job.Status).Sprint(job.Status))
	fmt.Fprintf(w, "  %s %s (profile %s)\n", Label.Sprint("role:   "), job.Role, job.Profile)
	fmt.Fprintf(w, "  %s %s\n", Label.Sprint("queued: "), humanize.Time(job.RequestedAt))
	if job.EngineUsed != "" {
		engine := job.EngineUsed
		if job.Degraded {
			engine += Warning.Sprint(" (degraded)")
		}
		fmt.Fprintf(w, "  %s %s\n", Label.Sprint("engine: "), engine)
	}
	if job.CompletedAt != nil {
		fmt.Fprintf(w, "  %s %s\n", Label.Sprint("took:   "), job.CompletedAt.Sub(job.RequestedAt).Round(time.Millisecond))
	}
	if job.Result != nil {
		fmt.Fprintf(w, "  %s %s (%s, %s)\n", Label.Sprint("audio:  "), job.Result.URL,
			job.Result.ContentType, humanize.Bytes(uint64(job.Result.Bytes)))
	}
	if job.Error != nil {
		fmt.Fprintf(w, "  %s %s: %s\n", Label.Sprint("error:  "), Error.Sprint(job.Error.Kind), job.Error.Message)
		if len(job.Error.EnginesAttempted) > 0 {
			fmt.Fprintf(w, "  %s %s\n", Label.Sprint("tried:  "), strings.Join(job.Error.EnginesAttempted, ", "))
		}
	}
}

func renderHealth(w io.Writer, hs map[string]health.EngineHealth) {
	names := make([]string, 0, len(hs))
	for n := range hs {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		h := hs[n]
		mark := Success.Sprint("up  ")
		if !h.Available {
			mark = Error.Sprint("down")
		}
		fmt.Fprintf(w, "%s %-20s %-7s %5dms  checked %s", mark, n, h.Mode, h.LastResponseTimeMs, humanize.Time(h.LastCheckedAt))
		if !h.ModelLoaded {
			fmt.Fprint(w, Warning.Sprint("  model not loaded"))
		}
		if h.ConsecutiveFailures > 0 {
			fmt.Fprint(w, Faint.Sprintf("  %d failures", h.ConsecutiveFailures))
		}
		if h.LastError != "" {
			fmt.Fprintf(w, "  %s", Faint.Sprint(h.LastError))
		}
		fmt.Fprintln(w)
	}
}

func renderProfiles(w io.Writer, pl ProfileList) {
	for _, p := range pl.Profiles {
		name := Title.Sprint(p.Role)
		if p.Role == pl.DefaultRole {
			name += Faint.Sprint(" (default)")
		}
		fmt.Fprintln(w, name)
		fmt.Fprintf(w, "  speaker %s  tempo %.2f  pitch %+.1f", p.Speaker, p.Tempo, p.Pitch)
		if p.Emotion != "" {
			fmt.Fprintf(w, "  emotion %s", p.Emotion)
		}
		fmt.Fprintln(w)
		if len(p.Markers) > 0 {
			fmt.Fprintf(w, "  markers %s\n", strings.Join(p.Markers, " "))
		}
		if p.Intro != "" {
			fmt.Fprintf(w, "  %s\n", Faint.Sprintf("%q", p.Intro))
		}
	}
}

func renderStats(w io.Writer, s queue.Stats) {
	fmt.Fprintf(w, "%s %s/%s queued, %s workers\n", Title.Sprint("queue"),
		humanize.Comma(int64(s.Depth)), humanize.Comma(int64(s.Capacity)), humanize.Comma(int64(s.Workers)))
	fmt.Fprintf(w, "  queued %d  processing %d  completed %d  failed %d  retained %d\n",
		s.Queued, s.Processing, s.Completed, s.Failed, s.Retained)
}

func renderHistory(w io.Writer, records []history.JobRecord) {
	for _, r := range records {
		outcome := statusColour(queue.Status(r.Status)).Sprintf("%-9s", r.Status)
		detail := r.EngineUsed
		if r.ErrorKind != "" {
			detail = r.ErrorKind
		}
		fmt.Fprintf(w, "%s %s %-10s %-16s %6dms  %s\n", r.JobID, outcome, r.Role, detail, r.DurationMs, Faint.Sprint(humanize.Time(r.RequestedAt)))
	}
}

func renderEvent(w io.Writer, ev Event) {
	var job queue.Job
	if err := json.Unmarshal(ev.Data, &job); err != nil || job.ID == "" {
		fmt.Fprintf(w, "%s %s\n", Faint.Sprint(ev.Type), ev.Data)
		return
	}
	line := fmt.Sprintf("%s %-15s %s %s", Faint.Sprint(time.Now().Format("15:04:05")), ev.Type, job.ID, statusColour(job.Status).Sprint(job.Status))
	if job.EngineUsed != "" {
		line += " via " + job.EngineUsed
	}
	if job.Error != nil {
		line += " " + Error.Sprint(job.Error.Kind)
	}
	fmt.Fprintln(w, line)
}
