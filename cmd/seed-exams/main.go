package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/service"
)

// sampleExam is one exam to seed together with its answer key.
type sampleExam struct {
	exam      model.ExamDefinition
	questions []model.ExamQuestion
}

func main() {
	var (
		students   int
		firstID    int
		tokenTTL   time.Duration
		windowFrom time.Duration
	)
	flag.IntVar(&students, "students", 5, "Number of students to enroll")
	flag.IntVar(&firstID, "first-student", 1001, "First student ID")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "Lifetime of the printed dev tokens (0 disables)")
	flag.DurationVar(&windowFrom, "scheduled-in", 10*time.Minute, "Start of the scheduled exam window, relative to now")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)
	enrollmentRepo := repository.NewEnrollmentRepository(pool)

	studentIDs := make([]int, students)
	for i := range studentIDs {
		studentIDs[i] = firstID + i
	}

	fmt.Println("=== Seeding sample exams ===")
	for _, s := range samples(time.Now().UTC().Add(windowFrom).Truncate(time.Minute)) {
		exam := s.exam
		if err := examRepo.Create(ctx, &exam); err != nil {
			log.Fatal().Err(err).Str("title", exam.Title).Msg("Failed to create exam")
		}
		if err := examRepo.ReplaceQuestions(ctx, exam.ID, s.questions); err != nil {
			log.Fatal().Err(err).Str("title", exam.Title).Msg("Failed to store answer key")
		}
		if err := enrollmentRepo.Enroll(ctx, exam.ID, studentIDs...); err != nil {
			log.Fatal().Err(err).Str("title", exam.Title).Msg("Failed to enroll students")
		}
		fmt.Printf("%-36s  %-28s  %s, %d question(s)\n", exam.ID, exam.Title, exam.Availability, len(s.questions))
	}
	fmt.Printf("Enrolled students %d..%d\n", studentIDs[0], studentIDs[len(studentIDs)-1])

	if tokenTTL <= 0 {
		return
	}
	auth := service.NewAuthService(cfg.JWTSecret)
	fmt.Println("\n=== Dev tokens ===")
	for _, id := range studentIDs {
		token, err := auth.IssueStudentToken(id, tokenTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to sign token")
		}
		fmt.Printf("%d  %s\n", id, token)
	}
}

func samples(scheduledStart time.Time) []sampleExam {
	scheduledEnd := scheduledStart.Add(180 * time.Minute)
	marking := func(pos, neg float64) json.RawMessage {
		raw, _ := json.Marshal(model.MarkingRule{Positive: pos, Negative: neg})
		return raw
	}

	return []sampleExam{
		{
			exam: model.ExamDefinition{
				Title:              "NEET UG Full Mock",
				Stream:             "NEET",
				Availability:       model.AvailabilityPractice,
				Subjects:           []string{"Physics", "Chemistry", "Biology"},
				TotalMarks:         720,
				Reattempt:          3,
				MarkingRulePreview: marking(4, 1),
				Status:             model.ExamStatusPublished,
			},
			questions: questions(map[string][]string{
				"Physics":   {"A", "C", "B"},
				"Chemistry": {"D", "A", "A"},
				"Biology":   {"B", "B", "C", "D", "A", "C"},
			}),
		},
		{
			exam: model.ExamDefinition{
				Title:              "JEE Main Practice Paper",
				Stream:             "JEE Main",
				Availability:       model.AvailabilityPractice,
				Subjects:           []string{"Physics", "Chemistry", "Maths"},
				TotalMarks:         300,
				Reattempt:          2,
				MarkingRulePreview: marking(4, 1),
				Status:             model.ExamStatusPublished,
			},
			questions: questions(map[string][]string{
				"Physics":   {"B", "D"},
				"Chemistry": {"A", "C"},
				"Maths":     {"C", "C"},
			}),
		},
		{
			exam: model.ExamDefinition{
				Title:              "MHT-CET Scheduled Mock",
				Stream:             "MHT-CET",
				Availability:       model.AvailabilityScheduled,
				StartTime:          &scheduledStart,
				EndTime:            &scheduledEnd,
				Subjects:           []string{"Physics", "Chemistry", "Maths", "Biology"},
				TotalMarks:         200,
				Reattempt:          1,
				MarkingRulePreview: marking(2, 0),
				Status:             model.ExamStatusPublished,
			},
			questions: questions(map[string][]string{
				"Physics":   {"A", "B"},
				"Chemistry": {"C", "D"},
				"Maths":     {"A", "A"},
				"Biology":   {"B", "C"},
			}),
		},
	}
}

func questions(bySubject map[string][]string) []model.ExamQuestion {
	var out []model.ExamQuestion
	for subject, answers := range bySubject {
		for i, ans := range answers {
			out = append(out, model.ExamQuestion{
				QuestionKey:   fmt.Sprintf("%s-%02d", subject, i+1),
				Subject:       subject,
				CorrectAnswer: ans,
			})
		}
	}
	return out
}
