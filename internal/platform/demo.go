package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/catalog"
)

var demoSpecialties = []string{
	"sexual-health",
	"hiv",
	"reproductive-health",
	"mental-health",
	"gynecology",
	"urology",
}

type DemoSizes struct {
	Consultants int
	Customers   int
}

type DemoUser struct {
	ID    uuid.UUID
	Name  string
	Email string
}

// Demo is a generated clinic: consultants with weekday morning and afternoon
// windows, a small service catalog and a set of customers.
type Demo struct {
	ConsultantUsers []DemoUser
	Consultants     []appointment.ConsultantProfile
	Windows         []appointment.AvailabilityWindow
	Services        []catalog.Service
	Customers       []DemoUser
}

// GenerateDemo builds a Demo from seed; equal seeds give equal data.
func GenerateDemo(seed uint64, sizes DemoSizes) Demo {
	faker := gofakeit.New(seed)
	var d Demo

	for i := 0; i < sizes.Consultants; i++ {
		user := DemoUser{ID: uuidFrom(faker), Name: "Dr. " + faker.Name(), Email: faker.Email()}
		profile := appointment.ConsultantProfile{
			ID:          uuidFrom(faker),
			UserID:      user.ID,
			Name:        user.Name,
			Role:        appointment.RoleConsultant,
			Specialties: pickSpecialties(faker),
			Status:      appointment.ProfileActive,
		}
		d.ConsultantUsers = append(d.ConsultantUsers, user)
		d.Consultants = append(d.Consultants, profile)

		for day := time.Monday; day <= time.Friday; day++ {
			for _, span := range [][2]int{{8, 12}, {13, 17}} {
				d.Windows = append(d.Windows, appointment.AvailabilityWindow{
					ID:              uuidFrom(faker),
					ConsultantID:    profile.ID,
					DayOfWeek:       day,
					StartTime:       appointment.NewTimeOfDay(span[0], 0),
					EndTime:         appointment.NewTimeOfDay(span[1], 0),
					MaxAppointments: faker.Number(3, 8),
					IsAvailable:     true,
				})
			}
		}
	}

	d.Services = []catalog.Service{
		demoService(faker, "General consultation", catalog.CategoryConsultation, 30, 150000),
		demoService(faker, "Sexual health counselling", catalog.CategoryConsultation, 45, 250000, "sexual-health"),
		demoService(faker, "HIV pre-test counselling", catalog.CategoryConsultation, 30, 200000, "hiv"),
		demoService(faker, "Rapid HIV test", "testing", 15, 90000, "hiv"),
		demoService(faker, "STI panel", "testing", 20, 450000, "sexual-health"),
		demoService(faker, "Contraception advice", catalog.CategoryConsultation, 30, 180000, "reproductive-health"),
	}

	for i := 0; i < sizes.Customers; i++ {
		d.Customers = append(d.Customers, DemoUser{ID: uuidFrom(faker), Name: faker.Name(), Email: faker.Email()})
	}
	return d
}

// LoadMemory puts the demo clinic into the in-memory stores.
func (d Demo) LoadMemory(repo *appointment.MemoryRepository, reader *catalog.MemoryReader) {
	for _, c := range d.Consultants {
		repo.AddConsultant(c)
	}
	for _, w := range d.Windows {
		repo.AddWindow(w)
	}
	for _, s := range d.Services {
		reader.Put(s)
	}
}

// InsertPostgres writes the demo clinic in one transaction. Rows that already
// exist are left alone.
func (d Demo) InsertPostgres(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, u := range d.ConsultantUsers {
			if err := insertUser(ctx, tx, u, appointment.RoleConsultant); err != nil {
				return err
			}
		}
		for _, u := range d.Customers {
			if err := insertUser(ctx, tx, u, appointment.RoleCustomer); err != nil {
				return err
			}
		}

		for _, c := range d.Consultants {
			_, err := tx.Exec(ctx, `
				INSERT INTO consultant_profiles (id, user_id, specialties, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
				ON CONFLICT (id) DO NOTHING
			`, c.ID, c.UserID, c.Specialties, c.Status)
			if err != nil {
				return fmt.Errorf("insert consultant profile: %w", err)
			}
		}

		for _, w := range d.Windows {
			_, err := tx.Exec(ctx, `
				INSERT INTO consultant_availability (id, consultant_id, day_of_week, start_time, end_time, max_appointments, is_available)
				VALUES ($1, $2, $3, $4::time, $5::time, $6, $7)
				ON CONFLICT (id) DO NOTHING
			`, w.ID, w.ConsultantID, int(w.DayOfWeek), w.StartTime.String(), w.EndTime.String(), w.MaxAppointments, w.IsAvailable)
			if err != nil {
				return fmt.Errorf("insert availability: %w", err)
			}
		}

		for _, s := range d.Services {
			_, err := tx.Exec(ctx, `
				INSERT INTO services (id, name, duration_minutes, price, category, specialties)
				VALUES ($1, $2, $3, $4::numeric, $5, $6)
				ON CONFLICT (id) DO NOTHING
			`, s.ID, s.Name, s.DurationMinutes, s.Price.String(), s.Category, s.Specialties)
			if err != nil {
				return fmt.Errorf("insert service: %w", err)
			}
		}
		return nil
	})
}

func insertUser(ctx context.Context, tx pgx.Tx, u DemoUser, role appointment.Role) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, full_name, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT DO NOTHING
	`, u.ID, u.Name, u.Email, role)
	if err != nil {
		return fmt.Errorf("insert %s user: %w", role, err)
	}
	return nil
}

func demoService(faker *gofakeit.Faker, name, category string, minutes int, price int64, specialties ...string) catalog.Service {
	return catalog.Service{
		ID:              uuidFrom(faker),
		Name:            name,
		DurationMinutes: minutes,
		Price:           decimal.NewFromInt(price),
		Category:        category,
		Specialties:     specialties,
	}
}

func pickSpecialties(faker *gofakeit.Faker) []string {
	n := faker.Number(1, 3)
	out := make([]string, 0, n)
	seen := make(map[string]bool, n)
	for len(out) < n {
		s := faker.RandomString(demoSpecialties)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// uuidFrom derives ids from the faker so a seed reproduces the whole clinic.
func uuidFrom(faker *gofakeit.Faker) uuid.UUID {
	id, err := uuid.Parse(faker.UUID())
	if err != nil {
		return uuid.New()
	}
	return id
}
