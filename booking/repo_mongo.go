package booking

import (
	"context"
	"time"

	"github.com/carebridge/backend/models"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoRepository stores appointments in the appointments collection. Slot
// exclusivity is enforced by a unique partial index over
// (doctor_id, appointment_date, slot_time) restricted to is_valid documents,
// so a check-then-insert race loses at the index, not in handler code.
type MongoRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoRepository(client *mongo.Client, dbName string) *MongoRepository {
	return &MongoRepository{
		client: client,
		coll:   client.Database(dbName).Collection("appointments"),
	}
}

// EnsureIndexes creates the slot-exclusivity index and the common lookup
// indexes. Safe to call on every startup.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "doctor_id", Value: 1},
				{Key: "appointment_date", Value: 1},
				{Key: "slot_time", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_valid": true}),
		},
		{Keys: bson.D{{Key: "patient_email", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "doctor_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return errors.Wrap(err, "failed to create appointment indexes")
}

func (r *MongoRepository) Insert(ctx context.Context, a *models.Appointment) error {
	_, err := r.coll.InsertOne(ctx, a)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSlotTaken
		}
		return errors.Wrap(err, "failed to insert appointment")
	}
	return nil
}

func (r *MongoRepository) FindByID(ctx context.Context, id string) (*models.Appointment, error) {
	var appt models.Appointment
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&appt)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to find appointment")
	}
	return &appt, nil
}

func (r *MongoRepository) FindActiveByDoctorDate(ctx context.Context, doctorID, date string) ([]models.Appointment, error) {
	cursor, err := r.coll.Find(ctx, bson.M{
		"doctor_id":        doctorID,
		"appointment_date": date,
		"status":           bson.M{"$ne": models.StatusCancelled},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to query active appointments")
	}
	defer cursor.Close(ctx)
	return decodeAppointments(ctx, cursor)
}

func (r *MongoRepository) UpdateStatus(ctx context.Context, id string, status models.AppointmentStatus, reason string) (*models.Appointment, error) {
	set := bson.M{
		"status":     status,
		"is_valid":   status != models.StatusCancelled,
		"updated_at": time.Now().UTC(),
	}
	if reason != "" {
		set["cancellation_reason"] = reason
	}

	var updated models.Appointment
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to update appointment status")
	}
	return &updated, nil
}

// Confirm marks the target appointment booked and cancels every other
// pending appointment holding the same (doctor, date, slot), all inside one
// transaction so a crash cannot leave two winners.
func (r *MongoRepository) Confirm(ctx context.Context, id, siblingReason string) (*models.Appointment, []models.Appointment, error) {
	sess, err := r.client.StartSession()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to start session")
	}
	defer sess.EndSession(ctx)

	type confirmResult struct {
		appt      *models.Appointment
		cancelled []models.Appointment
	}

	result, err := sess.WithTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		updated, err := r.UpdateStatus(ctx, id, models.StatusBooked, "")
		if err != nil {
			return nil, err
		}

		siblingFilter := bson.M{
			"_id":              bson.M{"$ne": id},
			"doctor_id":        updated.DoctorID,
			"appointment_date": updated.AppointmentDate,
			"slot_time":        updated.SlotTime,
			"status":           models.StatusPending,
		}

		cursor, err := r.coll.Find(ctx, siblingFilter)
		if err != nil {
			return nil, errors.Wrap(err, "failed to find conflicting appointments")
		}
		siblings, err := decodeAppointments(ctx, cursor)
		cursor.Close(ctx)
		if err != nil {
			return nil, err
		}

		if len(siblings) > 0 {
			now := time.Now().UTC()
			_, err = r.coll.UpdateMany(ctx, siblingFilter, bson.M{"$set": bson.M{
				"status":              models.StatusCancelled,
				"is_valid":            false,
				"cancellation_reason": siblingReason,
				"updated_at":          now,
			}})
			if err != nil {
				return nil, errors.Wrap(err, "failed to cancel conflicting appointments")
			}
			for i := range siblings {
				siblings[i].Status = models.StatusCancelled
				siblings[i].IsValid = false
				siblings[i].CancellationReason = siblingReason
				siblings[i].UpdatedAt = now
			}
		}

		return confirmResult{appt: updated, cancelled: siblings}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	res := result.(confirmResult)
	return res.appt, res.cancelled, nil
}

func (r *MongoRepository) List(ctx context.Context, f ListFilter) ([]models.Appointment, int64, error) {
	query := bson.M{}
	if f.DoctorID != "" && f.DoctorID != "all" {
		query["doctor_id"] = f.DoctorID
	}
	if f.PatientEmail != "" && f.PatientEmail != "all" {
		query["patient_email"] = f.PatientEmail
	}
	if f.Status != "" && f.Status != "all" {
		query["status"] = f.Status
	}
	dateQuery := bson.M{}
	if f.StartDate != "" {
		dateQuery["$gte"] = f.StartDate
	}
	if f.EndDate != "" {
		dateQuery["$lte"] = f.EndDate
	}
	if len(dateQuery) > 0 {
		query["appointment_date"] = dateQuery
	}

	sortDirection := -1
	if f.SortOrder == "asc" {
		sortDirection = 1
	}
	findOptions := options.Find().
		SetLimit(f.Limit).
		SetSkip(f.Offset).
		SetSort(bson.D{{Key: f.SortBy, Value: sortDirection}})

	cursor, err := r.coll.Find(ctx, query, findOptions)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to query appointments")
	}
	defer cursor.Close(ctx)

	appts, err := decodeAppointments(ctx, cursor)
	if err != nil {
		return nil, 0, err
	}

	total, err := r.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to count appointments")
	}
	return appts, total, nil
}

func (r *MongoRepository) CancelUpcomingForDoctor(ctx context.Context, doctorID, fromDate, reason string) ([]models.Appointment, error) {
	filter := bson.M{
		"doctor_id":        doctorID,
		"appointment_date": bson.M{"$gte": fromDate},
		"status":           bson.M{"$in": []models.AppointmentStatus{models.StatusPending, models.StatusBooked}},
	}

	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find upcoming appointments")
	}
	affected, err := decodeAppointments(ctx, cursor)
	cursor.Close(ctx)
	if err != nil {
		return nil, err
	}
	if len(affected) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	_, err = r.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{
		"status":              models.StatusCancelled,
		"is_valid":            false,
		"cancellation_reason": reason,
		"updated_at":          now,
	}})
	if err != nil {
		return nil, errors.Wrap(err, "failed to cancel upcoming appointments")
	}
	for i := range affected {
		affected[i].Status = models.StatusCancelled
		affected[i].IsValid = false
		affected[i].CancellationReason = reason
		affected[i].UpdatedAt = now
	}
	return affected, nil
}

func decodeAppointments(ctx context.Context, cursor *mongo.Cursor) ([]models.Appointment, error) {
	var appointments []models.Appointment
	for cursor.Next(ctx) {
		var appointment models.Appointment
		if err := cursor.Decode(&appointment); err != nil {
			return nil, errors.Wrap(err, "failed to decode appointment")
		}
		appointments = append(appointments, appointment)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, "cursor error")
	}
	return appointments, nil
}
