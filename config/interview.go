package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// InterviewConfig holds the engine settings. Every field falls back to its
// default when the variable is unset or invalid.
type InterviewConfig struct {
	Language          string
	Persona           string
	JobQuestions      int
	PracticeQuestions int
	JobBudget         time.Duration
	PracticeBudget    time.Duration
	TemplateFile      string

	AdvanceFallback       time.Duration
	VolumeInterval        time.Duration
	TranscribeTimeout     time.Duration
	LongTranscribeTimeout time.Duration

	AvatarAPIURL      string
	AvatarAPIKey      string
	AvatarTimeout     time.Duration
	AvatarConcurrency int

	AudioBucket    string
	SignedURLTTL   time.Duration
	SnapshotTTL    time.Duration
	ArchiveWorkers int

	CORSOrigins []string
	RabbitURI   string

	VertexProject  string
	VertexLocation string
	VertexModel    string
}

func LoadInterview() InterviewConfig {
	return InterviewConfig{
		Language:          envString("INTERVIEW_LANGUAGE", "en"),
		Persona:           envString("INTERVIEW_PERSONA", "black_man"),
		JobQuestions:      envInt("INTERVIEW_JOB_QUESTIONS", 10),
		PracticeQuestions: envInt("INTERVIEW_PRACTICE_QUESTIONS", 3),
		JobBudget:         envSeconds("INTERVIEW_JOB_BUDGET_SECONDS", 900),
		PracticeBudget:    envSeconds("INTERVIEW_PRACTICE_BUDGET_SECONDS", 180),
		TemplateFile:      envString("INTERVIEW_TEMPLATE_FILE", ""),

		AdvanceFallback:       envDuration("INTERVIEW_ADVANCE_FALLBACK", 8*time.Second),
		VolumeInterval:        envDuration("INTERVIEW_VOLUME_INTERVAL", 100*time.Millisecond),
		TranscribeTimeout:     envDuration("INTERVIEW_TRANSCRIBE_TIMEOUT", 30*time.Second),
		LongTranscribeTimeout: envDuration("INTERVIEW_LONG_TRANSCRIBE_TIMEOUT", 3*time.Minute),

		AvatarAPIURL:      envString("AVATAR_API_URL", ""),
		AvatarAPIKey:      envString("AVATAR_API_KEY", ""),
		AvatarTimeout:     envDuration("AVATAR_TIMEOUT", 30*time.Second),
		AvatarConcurrency: envInt("AVATAR_CONCURRENCY", 4),

		AudioBucket:    envString("GCS_AUDIO_BUCKET", ""),
		SignedURLTTL:   envDuration("AUDIO_SIGNED_URL_TTL", 15*time.Minute),
		SnapshotTTL:    envDuration("SESSION_SNAPSHOT_TTL", 24*time.Hour),
		ArchiveWorkers: envInt("ARCHIVE_WORKERS", 2),

		CORSOrigins: envList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		RabbitURI:   envString("RABBITMQ_URI", ""),

		VertexProject:  envString("VERTEX_PROJECT_ID", ""),
		VertexLocation: envString("VERTEX_LOCATION", "us-central1"),
		VertexModel:    envString("VERTEX_MODEL", ""),
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}

// envDuration accepts Go durations ("8s", "250ms") or plain seconds.
func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func envList(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
