package replay

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/okian/talentmatch/internal/domain/model"
)

var (
	skillPool = []string{
		"Go", "Kubernetes", "PostgreSQL", "Redis", "gRPC", "Terraform", "AWS",
		"React", "TypeScript", "GraphQL", "Python", "Kafka", "Docker", "Linux",
	}
	titles    = []string{"Junior Engineer", "Software Engineer", "Senior Engineer", "Staff Engineer", "Engineering Manager"}
	degrees   = []string{"BSc", "MSc", "PhD", "Bachelor of Arts"}
	majors    = []string{"Computer Science", "Mathematics", "Physics", "History"}
	levels    = []string{"none", "bachelor", "master", "phd"}
	cultures  = []string{"mentoring", "open source", "startup", "remote"}
	companies = []string{"Acme", "Globex", "Initech", "Umbrella", "Hooli"}
)

// Synthetic generates n job/resume pairs spread over ceil(n/10) jobs, with
// the job and resume events shuffled together so some resumes arrive before
// their job.
func Synthetic(n int, seed uint64, now time.Time) ([]Event, error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var out []Event

	jobs := (n + resumesPerJob - 1) / resumesPerJob
	jobIDs := make([]string, jobs)
	for j := range jobIDs {
		jobIDs[j] = fmt.Sprintf("job-%04d", j)
		ev, err := jobEvent(rng, jobIDs[j], now)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	for i := 0; i < n; i++ {
		key := model.Key{JobID: jobIDs[i%jobs], ResumeID: fmt.Sprintf("res-%06d", i)}
		ev, err := resumeEvent(rng, key, now)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}

	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}

func pick[T any](rng *rand.Rand, xs []T) T { return xs[rng.IntN(len(xs))] }

func sample(rng *rand.Rand, xs []string, k int) []string {
	idx := rng.Perm(len(xs))[:k]
	out := make([]string, k)
	for i, j := range idx {
		out[i] = xs[j]
	}
	return out
}

func envelope(typ model.EventType, now time.Time, data any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"id":         uuid.NewString(),
		"type":       typ,
		"occurredAt": now.UTC().Format(time.RFC3339),
		"data":       data,
	})
}

func jobEvent(rng *rand.Rand, jobID string, now time.Time) (Event, error) {
	skills := make([]map[string]any, 0, 5)
	for i, name := range sample(rng, skillPool, 2+rng.IntN(4)) {
		skills = append(skills, map[string]any{
			"name":     name,
			"weight":   0.5 + float64(rng.IntN(6))/10,
			"required": i < 2,
		})
	}
	minYears := rng.IntN(8)
	reqs := map[string]any{
		"skills":          skills,
		"experienceYears": map[string]any{"min": minYears, "max": minYears + 5},
		"educationLevel":  pick(rng, levels),
		"domainKeywords":  sample(rng, skillPool, 2),
	}
	if rng.IntN(2) == 0 {
		reqs["companyProfile"] = map[string]any{"descriptors": sample(rng, cultures, 2)}
	}
	raw, err := envelope(model.EventJobRequirementsExtracted, now, map[string]any{"jobId": jobID, "requirements": reqs})
	if err != nil {
		return Event{}, err
	}
	return Event{Raw: raw, Type: model.EventJobRequirementsExtracted, Key: model.Key{JobID: jobID}}, nil
}

func resumeEvent(rng *rand.Rand, key model.Key, now time.Time) (Event, error) {
	var history []map[string]any
	start := now.AddDate(-2-rng.IntN(12), 0, 0)
	for i, n := 0, 1+rng.IntN(4); i < n && start.Before(now); i++ {
		end := start.AddDate(1+rng.IntN(3), rng.IntN(12), 0)
		entry := map[string]any{
			"company":  pick(rng, companies),
			"position": titles[min(i+rng.IntN(2), len(titles)-1)],
			"start":    start.Format("2006-01"),
			"summary":  "Built " + pick(rng, skillPool) + " services with a focus on " + pick(rng, cultures),
		}
		if i == n-1 || !end.Before(now) {
			entry["end"] = "present"
			history = append(history, entry)
			break
		}
		entry["end"] = end.Format("2006-01")
		history = append(history, entry)
		start = end.AddDate(0, rng.IntN(5), 0)
	}

	profile := map[string]any{
		"parsedAt":       now.Format("2006-01-02"),
		"skills":         sample(rng, skillPool, 3+rng.IntN(6)),
		"workExperience": history,
		"education":      []map[string]any{{"school": "State University", "degree": pick(rng, degrees), "major": pick(rng, majors)}},
	}
	raw, err := envelope(model.EventResumeParsed, now, map[string]any{
		"jobId":    key.JobID,
		"resumeId": key.ResumeID,
		"profile":  profile,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{Raw: raw, Type: model.EventResumeParsed, Key: key}, nil
}
