package records

import (
	"context"

	"github.com/carebridge/backend/models"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoRecordRepository stores medical records in the medical_records
// collection.
type MongoRecordRepository struct {
	coll *mongo.Collection
}

func NewMongoRecordRepository(client *mongo.Client, dbName string) *MongoRecordRepository {
	return &MongoRecordRepository{coll: client.Database(dbName).Collection("medical_records")}
}

// EnsureIndexes creates the patient/doctor lookup indexes.
func (r *MongoRecordRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "patient_email", Value: 1}, {Key: "record_date", Value: -1}}},
		{Keys: bson.D{{Key: "doctor_id", Value: 1}, {Key: "record_date", Value: -1}}},
	})
	return errors.Wrap(err, "failed to create medical record indexes")
}

func (r *MongoRecordRepository) Insert(ctx context.Context, rec *models.MedicalRecord) error {
	_, err := r.coll.InsertOne(ctx, rec)
	return errors.Wrap(err, "failed to insert medical record")
}

func (r *MongoRecordRepository) FindByID(ctx context.Context, id string) (*models.MedicalRecord, error) {
	var rec models.MedicalRecord
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRecordNotFound
		}
		return nil, errors.Wrap(err, "failed to find medical record")
	}
	return &rec, nil
}

func (r *MongoRecordRepository) Update(ctx context.Context, rec *models.MedicalRecord) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec)
	if err != nil {
		return errors.Wrap(err, "failed to update medical record")
	}
	if res.MatchedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *MongoRecordRepository) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "failed to delete medical record")
	}
	if res.DeletedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *MongoRecordRepository) ListByPatient(ctx context.Context, patientEmail string) ([]models.MedicalRecord, error) {
	return r.list(ctx, bson.M{"patient_email": patientEmail})
}

func (r *MongoRecordRepository) ListByDoctor(ctx context.Context, doctorID string) ([]models.MedicalRecord, error) {
	return r.list(ctx, bson.M{"doctor_id": doctorID})
}

func (r *MongoRecordRepository) list(ctx context.Context, filter bson.M) ([]models.MedicalRecord, error) {
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "record_date", Value: -1}}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query medical records")
	}
	defer cursor.Close(ctx)

	var recs []models.MedicalRecord
	for cursor.Next(ctx) {
		var rec models.MedicalRecord
		if err := cursor.Decode(&rec); err != nil {
			return nil, errors.Wrap(err, "failed to decode medical record")
		}
		recs = append(recs, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, "cursor error")
	}
	return recs, nil
}

// MongoPrescriptionRepository stores prescriptions in the prescriptions
// collection.
type MongoPrescriptionRepository struct {
	coll *mongo.Collection
}

func NewMongoPrescriptionRepository(client *mongo.Client, dbName string) *MongoPrescriptionRepository {
	return &MongoPrescriptionRepository{coll: client.Database(dbName).Collection("prescriptions")}
}

// EnsureIndexes creates the record/patient lookup indexes.
func (r *MongoPrescriptionRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "medical_record_id", Value: 1}}},
		{Keys: bson.D{{Key: "patient_email", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return errors.Wrap(err, "failed to create prescription indexes")
}

func (r *MongoPrescriptionRepository) Insert(ctx context.Context, p *models.Prescription) error {
	_, err := r.coll.InsertOne(ctx, p)
	return errors.Wrap(err, "failed to insert prescription")
}

func (r *MongoPrescriptionRepository) FindByID(ctx context.Context, id string) (*models.Prescription, error) {
	var p models.Prescription
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, errors.Wrap(err, "failed to find prescription")
	}
	return &p, nil
}

func (r *MongoPrescriptionRepository) Update(ctx context.Context, p *models.Prescription) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, p)
	if err != nil {
		return errors.Wrap(err, "failed to update prescription")
	}
	if res.MatchedCount == 0 {
		return ErrPrescriptionNotFound
	}
	return nil
}

func (r *MongoPrescriptionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "failed to delete prescription")
	}
	if res.DeletedCount == 0 {
		return ErrPrescriptionNotFound
	}
	return nil
}

func (r *MongoPrescriptionRepository) FindByRecord(ctx context.Context, recordID string) ([]models.Prescription, error) {
	return r.list(ctx, bson.M{"medical_record_id": recordID})
}

func (r *MongoPrescriptionRepository) DeleteByRecord(ctx context.Context, recordID string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"medical_record_id": recordID})
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete prescriptions by record")
	}
	return res.DeletedCount, nil
}

func (r *MongoPrescriptionRepository) ListByPatient(ctx context.Context, patientEmail string) ([]models.Prescription, error) {
	return r.list(ctx, bson.M{"patient_email": patientEmail})
}

func (r *MongoPrescriptionRepository) list(ctx context.Context, filter bson.M) ([]models.Prescription, error) {
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query prescriptions")
	}
	defer cursor.Close(ctx)

	var scripts []models.Prescription
	for cursor.Next(ctx) {
		var p models.Prescription
		if err := cursor.Decode(&p); err != nil {
			return nil, errors.Wrap(err, "failed to decode prescription")
		}
		scripts = append(scripts, p)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, "cursor error")
	}
	return scripts, nil
}
