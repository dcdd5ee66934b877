// Package seeddata generates fake doctors and patients for the seed tool and
// for the api-server's in-memory store.
package seeddata

import (
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/appointment-lifecycle-engine/internal/api"
	"github.com/hackgods/appointment-lifecycle-engine/internal/appointment"
)

var Specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// Doctors returns count doctor profiles. Roughly one in ten is not taking
// bookings; the first one always is.
func Doctors(faker *gofakeit.Faker, count int, now time.Time) []appointment.Doctor {
	doctors := make([]appointment.Doctor, 0, count)
	for i := 0; i < count; i++ {
		email := faker.Email()
		phone := faker.Phone()
		doctors = append(doctors, appointment.Doctor{
			ID:             uuid.New(),
			Name:           "Dr. " + faker.Name(),
			Email:          &email,
			Phone:          &phone,
			Specialization: Specializations[faker.Number(0, len(Specializations)-1)],
			Active:         i == 0 || faker.Number(1, 10) != 1,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return doctors
}

func Patients(faker *gofakeit.Faker, count int, now time.Time) []appointment.Patient {
	patients := make([]appointment.Patient, 0, count)
	for i := 0; i < count; i++ {
		email := faker.Email()
		phone := faker.Phone()
		patients = append(patients, appointment.Patient{
			ID:        uuid.New(),
			Name:      faker.Name(),
			Email:     &email,
			Phone:     &phone,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return patients
}

// LoadMemory generates doctors and patients straight into repo and returns them.
func LoadMemory(repo *appointment.MemoryRepository, faker *gofakeit.Faker, doctorCount, patientCount int) ([]appointment.Doctor, []appointment.Patient) {
	now := time.Now().UTC()
	doctors := Doctors(faker, doctorCount, now)
	patients := Patients(faker, patientCount, now)
	for _, d := range doctors {
		repo.PutDoctor(d)
	}
	for _, p := range patients {
		repo.PutPatient(p)
	}
	return doctors, patients
}

// SampleTokens signs one bearer token per role so the API can be tried by hand.
func SampleTokens(secret string, doctorID, patientID uuid.UUID, ttl time.Duration) ([]appointment.Actor, []string, error) {
	actors := []appointment.Actor{
		{ID: patientID, Role: appointment.RolePatient},
		{ID: doctorID, Role: appointment.RoleDoctor},
		{ID: uuid.New(), Role: appointment.RoleAdmin},
	}

	tokens := make([]string, 0, len(actors))
	for _, actor := range actors {
		tok, err := api.SignToken(secret, actor, ttl)
		if err != nil {
			return nil, nil, err
		}
		tokens = append(tokens, tok)
	}
	return actors, tokens, nil
}

func LogSampleTokens(secret string, doctorID, patientID uuid.UUID) error {
	actors, tokens, err := SampleTokens(secret, doctorID, patientID, 24*time.Hour)
	if err != nil {
		return err
	}
	for i, actor := range actors {
		log.Printf("sample token role=%s id=%s token=%s", actor.Role, actor.ID, tokens[i])
	}
	return nil
}
