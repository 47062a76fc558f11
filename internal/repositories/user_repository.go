package repositories

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/store"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// UserRepository handles user persistence
type UserRepository struct {
	store store.Store
}

// NewUserRepository creates a new user repository
func NewUserRepository(st store.Store) *UserRepository {
	return &UserRepository{store: st}
}

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	err := r.store.InsertOne(ctx, store.CollectionUsers, user)
	if errors.Is(err, store.ErrDuplicateKey) {
		return ErrUserExists
	}
	return err
}

// GetByID retrieves a user by its external identifier
func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	user := &models.User{}
	err := r.store.FindOne(ctx, store.CollectionUsers, bson.M{"user_id": userID}, user)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// GetDoc retrieves a user as a raw document for rule evaluation
func (r *UserRepository) GetDoc(ctx context.Context, userID string) (map[string]any, error) {
	doc := bson.M{}
	err := r.store.FindOne(ctx, store.CollectionUsers, bson.M{"user_id": userID}, &doc)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return doc, nil
}

// Update replaces the mutable fields of a user
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	set := bson.M{
		"full_name":         user.FullName,
		"email":             user.Email,
		"email_domain":      user.EmailDomain,
		"address":           user.Address,
		"address_zip":       user.AddressZip,
		"address_city":      user.AddressCity,
		"address_province":  user.AddressProvince,
		"address_kecamatan": user.AddressKecamatan,
		"phone_number":      user.PhoneNumber,
		"is_fraud":          user.IsFraud,
	}

	matched, err := r.store.UpdateOne(ctx, store.CollectionUsers, bson.M{"user_id": user.UserID}, set)
	if err != nil {
		return err
	}
	if matched == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete removes a user
func (r *UserRepository) Delete(ctx context.Context, userID string) error {
	deleted, err := r.store.DeleteOne(ctx, store.CollectionUsers, bson.M{"user_id": userID})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrUserNotFound
	}
	return nil
}

// List retrieves all users
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	cur, err := r.store.Find(ctx, store.CollectionUsers, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var users []*models.User
	for cur.Next(ctx) {
		user := &models.User{}
		if err := cur.Decode(user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return users, nil
}
