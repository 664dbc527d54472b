package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrCourseNotFound is returned when a course ID does not exist.
var ErrCourseNotFound = errors.New("course not found")

// Course is a catalogue entry.
type Course struct {
	ID          string
	Title       string
	Description string
}

// CourseTree is a course with its full module/lesson outline, as produced by
// document ingestion.
type CourseTree struct {
	ID          string
	Title       string
	Description string
	Modules     []ModuleTree
}

// ModuleTree is one module of a course outline.
type ModuleTree struct {
	ID      string
	Title   string
	Lessons []string
}

// CreateCourseTree inserts a course and its outline in one transaction. When
// tree.ID is empty a new ID is generated; the stored tree (with all IDs
// filled in) is returned.
func (s *Store) CreateCourseTree(ctx context.Context, tree CourseTree) (CourseTree, error) {
	if tree.Title == "" {
		return CourseTree{}, fmt.Errorf("store: course title must not be empty")
	}
	if tree.ID == "" {
		tree.ID = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CourseTree{}, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO courses (id, title, description)
		VALUES ($1, $2, $3)`,
		tree.ID, tree.Title, tree.Description,
	); err != nil {
		return CourseTree{}, fmt.Errorf("store: insert course: %w", err)
	}

	for mi := range tree.Modules {
		mod := &tree.Modules[mi]
		if mod.ID == "" {
			mod.ID = uuid.NewString()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO course_modules (id, course_id, title, position)
			VALUES ($1, $2, $3, $4)`,
			mod.ID, tree.ID, mod.Title, mi,
		); err != nil {
			return CourseTree{}, fmt.Errorf("store: insert module: %w", err)
		}
		for li, lesson := range mod.Lessons {
			if _, err := tx.Exec(ctx, `
				INSERT INTO course_lessons (id, module_id, title, position)
				VALUES ($1, $2, $3, $4)`,
				uuid.NewString(), mod.ID, lesson, li,
			); err != nil {
				return CourseTree{}, fmt.Errorf("store: insert lesson: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return CourseTree{}, fmt.Errorf("store: commit: %w", err)
	}
	return tree, nil
}

// GetCourseTree loads a course with its full outline.
func (s *Store) GetCourseTree(ctx context.Context, courseID string) (CourseTree, error) {
	var tree CourseTree
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, description FROM courses WHERE id = $1`,
		courseID,
	).Scan(&tree.ID, &tree.Title, &tree.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return CourseTree{}, fmt.Errorf("store: course %q: %w", courseID, ErrCourseNotFound)
	}
	if err != nil {
		return CourseTree{}, fmt.Errorf("store: get course: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.title, l.title
		FROM   course_modules m
		LEFT JOIN course_lessons l ON l.module_id = m.id
		WHERE  m.course_id = $1
		ORDER  BY m.position, l.position`,
		courseID,
	)
	if err != nil {
		return CourseTree{}, fmt.Errorf("store: get outline: %w", err)
	}
	defer rows.Close()

	byID := map[string]int{}
	for rows.Next() {
		var (
			modID, modTitle string
			lesson          *string
		)
		if err := rows.Scan(&modID, &modTitle, &lesson); err != nil {
			return CourseTree{}, fmt.Errorf("store: scan outline: %w", err)
		}
		idx, ok := byID[modID]
		if !ok {
			idx = len(tree.Modules)
			byID[modID] = idx
			tree.Modules = append(tree.Modules, ModuleTree{ID: modID, Title: modTitle})
		}
		if lesson != nil {
			tree.Modules[idx].Lessons = append(tree.Modules[idx].Lessons, *lesson)
		}
	}
	if err := rows.Err(); err != nil {
		return CourseTree{}, fmt.Errorf("store: outline rows: %w", err)
	}
	return tree, nil
}

// ListCourses returns all catalogue entries ordered by title.
func (s *Store) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, description FROM courses ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("store: list courses: %w", err)
	}
	courses, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Course, error) {
		var c Course
		err := row.Scan(&c.ID, &c.Title, &c.Description)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan courses: %w", err)
	}
	if courses == nil {
		courses = []Course{}
	}
	return courses, nil
}

// DeleteCourse removes the course and, via cascading foreign keys, its
// modules and lessons. Content chunks live in the vector store and are
// deleted separately.
func (s *Store) DeleteCourse(ctx context.Context, courseID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM courses WHERE id = $1`, courseID)
	if err != nil {
		return fmt.Errorf("store: delete course: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: delete course %q: %w", courseID, ErrCourseNotFound)
	}
	return nil
}
