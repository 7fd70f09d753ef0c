package app

import (
	"context"
	"fmt"
	"time"

	"focusboard/internal/auth"
	"focusboard/pkg/types"
)

// Demo account passwords. The seed is for local trials only.
const (
	DemoInstructorPassword = "instructor-demo"
	DemoStudentPassword    = "student-demo"
)

// DemoSeed describes what SeedDemo created.
type DemoSeed struct {
	Instructor      *types.User
	Student         *types.User
	Classroom       *types.Classroom
	Session         *types.Session
	InstructorToken string
	StudentToken    string
}

// SeedDemo creates an instructor, an enrolled student, a classroom and an
// active session, and issues a token for each account.
func (app *Application) SeedDemo(ctx context.Context) (*DemoSeed, error) {
	suffix := time.Now().UTC().Format("20060102150405")

	instructor, err := app.seedUser(ctx, "instructor+"+suffix+"@focusboard.local", "Demo Instructor", types.RoleInstructor, DemoInstructorPassword)
	if err != nil {
		return nil, err
	}
	student, err := app.seedUser(ctx, "student+"+suffix+"@focusboard.local", "Demo Student", types.RoleStudent, DemoStudentPassword)
	if err != nil {
		return nil, err
	}

	classroom := &types.Classroom{Name: "Demo Classroom", InstructorID: instructor.ID}
	if err := app.dbManager.CreateClassroom(ctx, classroom); err != nil {
		return nil, fmt.Errorf("seed classroom: %w", err)
	}
	if err := app.dbManager.Enroll(ctx, classroom.ID, student.ID, true); err != nil {
		return nil, fmt.Errorf("seed enrollment: %w", err)
	}
	sess, err := app.dbManager.CreateSession(ctx, classroom.ID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("seed session: %w", err)
	}

	seed := &DemoSeed{Instructor: instructor, Student: student, Classroom: classroom, Session: sess}
	if seed.InstructorToken, _, err = app.authService.Issue(instructor.ID); err != nil {
		return nil, err
	}
	if seed.StudentToken, _, err = app.authService.Issue(student.ID); err != nil {
		return nil, err
	}
	app.logger.Info("demo data seeded",
		"session_id", sess.ID, "instructor_id", instructor.ID, "student_id", student.ID)
	return seed, nil
}

func (app *Application) seedUser(ctx context.Context, email, name string, role types.Role, password string) (*types.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &types.User{Email: email, FullName: name, Role: role, PasswordHash: hash}
	if err := app.dbManager.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("seed %s: %w", role, err)
	}
	return user, nil
}
