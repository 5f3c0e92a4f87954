package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yasarts/reunion-live/internal/domain"
	"github.com/yasarts/reunion-live/internal/models"
)

// Mongo implements Store over MongoDB collections.
type Mongo struct {
	db           *mongo.Database
	meetings     *mongo.Collection
	agendaItems  *mongo.Collection
	participants *mongo.Collection
	votes        *mongo.Collection
	responses    *mongo.Collection
	audit        *mongo.Collection
}

var _ Store = (*Mongo)(nil)

// NewMongo creates a Mongo store and ensures required indexes exist.
func NewMongo(db *mongo.Database) *Mongo {
	s := &Mongo{
		db:           db,
		meetings:     db.Collection("meetings"),
		agendaItems:  db.Collection("agenda_items"),
		participants: db.Collection("participants"),
		votes:        db.Collection("votes"),
		responses:    db.Collection("vote_responses"),
		audit:        db.Collection("audit"),
	}
	s.ensureIndexes()
	return s
}

// ensureIndexes creates the indexes the gateway's semantics rely on. The two
// unique indexes back the idempotent participant add and the atomic
// cast-or-replace upsert.
func (s *Mongo) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.participants.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "meeting_id", Value: 1},
			{Key: "user_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})

	s.responses.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "vote_id", Value: 1},
			{Key: "user_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})

	s.agendaItems.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "meeting_id", Value: 1},
			{Key: "order_index", Value: 1},
		},
	})

	s.votes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "agenda_item_id", Value: 1},
		},
	})

	s.audit.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "timestamp", Value: 1},
		},
	})
}

// wrapErr translates driver errors into the domain taxonomy.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrPersistence, err)
}

// ---------------------------------------------------------------------------
// Meeting operations
// ---------------------------------------------------------------------------

func (s *Mongo) CreateMeeting(ctx context.Context, m *models.Meeting) error {
	m.CreatedAt = time.Now().UTC()
	if m.Status == "" {
		m.Status = models.MeetingDraft
	}
	res, err := s.meetings.InsertOne(ctx, m)
	if err != nil {
		return wrapErr("create meeting", err)
	}
	m.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *Mongo) GetMeeting(ctx context.Context, id primitive.ObjectID) (*models.Meeting, error) {
	var m models.Meeting
	if err := s.meetings.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, wrapErr("get meeting", err)
	}
	return &m, nil
}

func (s *Mongo) ListMeetings(ctx context.Context) ([]models.Meeting, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scheduled_at", Value: 1}})
	cursor, err := s.meetings.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, wrapErr("list meetings", err)
	}
	defer cursor.Close(ctx)

	var meetings []models.Meeting
	if err := cursor.All(ctx, &meetings); err != nil {
		return nil, wrapErr("list meetings", err)
	}
	if meetings == nil {
		meetings = []models.Meeting{}
	}
	return meetings, nil
}

func (s *Mongo) UpdateMeetingStatus(ctx context.Context, id primitive.ObjectID, status models.MeetingStatus) (*models.Meeting, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m models.Meeting
	err := s.meetings.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status}},
		opts,
	).Decode(&m)
	if err != nil {
		return nil, wrapErr("update meeting status", err)
	}
	return &m, nil
}

func (s *Mongo) DeleteMeeting(ctx context.Context, id primitive.ObjectID) error {
	voteIDs, err := s.voteIDsByMeeting(ctx, id)
	if err != nil {
		return err
	}
	if len(voteIDs) > 0 {
		if _, err := s.responses.DeleteMany(ctx, bson.M{"vote_id": bson.M{"$in": voteIDs}}); err != nil {
			return wrapErr("delete meeting responses", err)
		}
	}
	if _, err := s.votes.DeleteMany(ctx, bson.M{"meeting_id": id}); err != nil {
		return wrapErr("delete meeting votes", err)
	}
	if _, err := s.agendaItems.DeleteMany(ctx, bson.M{"meeting_id": id}); err != nil {
		return wrapErr("delete meeting agenda items", err)
	}
	if _, err := s.participants.DeleteMany(ctx, bson.M{"meeting_id": id}); err != nil {
		return wrapErr("delete meeting participants", err)
	}
	res, err := s.meetings.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrapErr("delete meeting", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete meeting: %w", domain.ErrNotFound)
	}
	return nil
}

func (s *Mongo) voteIDsByMeeting(ctx context.Context, meetingID primitive.ObjectID) ([]primitive.ObjectID, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := s.votes.Find(ctx, bson.M{"meeting_id": meetingID}, opts)
	if err != nil {
		return nil, wrapErr("list meeting votes", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, wrapErr("list meeting votes", err)
	}
	ids := make([]primitive.ObjectID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

// ---------------------------------------------------------------------------
// Agenda item operations
// ---------------------------------------------------------------------------

func (s *Mongo) CreateAgendaItem(ctx context.Context, item *models.AgendaItem) error {
	res, err := s.agendaItems.InsertOne(ctx, item)
	if err != nil {
		return wrapErr("create agenda item", err)
	}
	item.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *Mongo) GetAgendaItem(ctx context.Context, id primitive.ObjectID) (*models.AgendaItem, error) {
	var item models.AgendaItem
	if err := s.agendaItems.FindOne(ctx, bson.M{"_id": id}).Decode(&item); err != nil {
		return nil, wrapErr("get agenda item", err)
	}
	return &item, nil
}

func (s *Mongo) ListAgendaItems(ctx context.Context, meetingID primitive.ObjectID) ([]models.AgendaItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "order_index", Value: 1}})
	cursor, err := s.agendaItems.Find(ctx, bson.M{"meeting_id": meetingID}, opts)
	if err != nil {
		return nil, wrapErr("list agenda items", err)
	}
	defer cursor.Close(ctx)

	var items []models.AgendaItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, wrapErr("list agenda items", err)
	}
	if items == nil {
		items = []models.AgendaItem{}
	}
	return items, nil
}

func (s *Mongo) UpdateAgendaItem(ctx context.Context, id primitive.ObjectID, upd AgendaItemUpdate) (*models.AgendaItem, error) {
	set := bson.M{}
	if upd.Title != nil {
		set["title"] = *upd.Title
	}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}
	if upd.Content != nil {
		set["content"] = *upd.Content
	}
	if upd.Duration != nil {
		set["duration"] = *upd.Duration
	}
	if upd.Type != nil {
		set["type"] = *upd.Type
	}
	if upd.OrderIndex != nil {
		set["order_index"] = *upd.OrderIndex
	}
	if upd.VisualLink != nil {
		set["visual_link"] = *upd.VisualLink
	}
	if len(set) == 0 {
		return s.GetAgendaItem(ctx, id)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var item models.AgendaItem
	err := s.agendaItems.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&item)
	if err != nil {
		return nil, wrapErr("update agenda item", err)
	}
	return &item, nil
}

func (s *Mongo) SetAgendaItemCompleted(ctx context.Context, id primitive.ObjectID, completed bool, at *time.Time) (*models.AgendaItem, error) {
	update := bson.M{"$set": bson.M{"completed": completed}}
	if completed && at != nil {
		update["$set"].(bson.M)["completed_at"] = *at
	} else {
		update["$unset"] = bson.M{"completed_at": ""}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var item models.AgendaItem
	err := s.agendaItems.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&item)
	if err != nil {
		return nil, wrapErr("set agenda item completed", err)
	}
	return &item, nil
}

func (s *Mongo) DeleteAgendaItem(ctx context.Context, id primitive.ObjectID) error {
	voteIDs, err := s.voteIDsByItem(ctx, id)
	if err != nil {
		return err
	}
	if len(voteIDs) > 0 {
		if _, err := s.responses.DeleteMany(ctx, bson.M{"vote_id": bson.M{"$in": voteIDs}}); err != nil {
			return wrapErr("delete item responses", err)
		}
	}
	if _, err := s.votes.DeleteMany(ctx, bson.M{"agenda_item_id": id}); err != nil {
		return wrapErr("delete item votes", err)
	}
	res, err := s.agendaItems.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrapErr("delete agenda item", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete agenda item: %w", domain.ErrNotFound)
	}
	return nil
}

func (s *Mongo) voteIDsByItem(ctx context.Context, itemID primitive.ObjectID) ([]primitive.ObjectID, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := s.votes.Find(ctx, bson.M{"agenda_item_id": itemID}, opts)
	if err != nil {
		return nil, wrapErr("list item votes", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, wrapErr("list item votes", err)
	}
	ids := make([]primitive.ObjectID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

// ---------------------------------------------------------------------------
// Participant operations
// ---------------------------------------------------------------------------

func (s *Mongo) EnsureParticipant(ctx context.Context, p *models.Participant) (bool, error) {
	p.UpdatedAt = time.Now().UTC()
	res, err := s.participants.UpdateOne(ctx,
		bson.M{"meeting_id": p.MeetingID, "user_id": p.UserID},
		bson.M{"$setOnInsert": bson.M{
			"meeting_id": p.MeetingID,
			"user_id":    p.UserID,
			"company_id": p.CompanyID,
			"status":     p.Status,
			"updated_by": p.UpdatedBy,
			"updated_at": p.UpdatedAt,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, wrapErr("ensure participant", err)
	}
	if res.UpsertedID != nil {
		p.ID = res.UpsertedID.(primitive.ObjectID)
		return true, nil
	}
	return false, nil
}

func (s *Mongo) SetParticipantStatus(ctx context.Context, meetingID primitive.ObjectID, userID string, status models.ParticipantStatus, proxyCompanyID, updatedBy string) (*models.Participant, error) {
	update := bson.M{"$set": bson.M{
		"status":     status,
		"updated_by": updatedBy,
		"updated_at": time.Now().UTC(),
	}}
	if proxyCompanyID != "" {
		update["$set"].(bson.M)["proxy_company_id"] = proxyCompanyID
	} else {
		update["$unset"] = bson.M{"proxy_company_id": ""}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var p models.Participant
	err := s.participants.FindOneAndUpdate(ctx,
		bson.M{"meeting_id": meetingID, "user_id": userID},
		update, opts,
	).Decode(&p)
	if err != nil {
		return nil, wrapErr("set participant status", err)
	}
	return &p, nil
}

func (s *Mongo) GetParticipant(ctx context.Context, meetingID primitive.ObjectID, userID string) (*models.Participant, error) {
	var p models.Participant
	err := s.participants.FindOne(ctx, bson.M{"meeting_id": meetingID, "user_id": userID}).Decode(&p)
	if err != nil {
		return nil, wrapErr("get participant", err)
	}
	return &p, nil
}

func (s *Mongo) ListParticipants(ctx context.Context, meetingID primitive.ObjectID) ([]models.Participant, error) {
	opts := options.Find().SetSort(bson.D{{Key: "company_id", Value: 1}, {Key: "user_id", Value: 1}})
	cursor, err := s.participants.Find(ctx, bson.M{"meeting_id": meetingID}, opts)
	if err != nil {
		return nil, wrapErr("list participants", err)
	}
	defer cursor.Close(ctx)

	var participants []models.Participant
	if err := cursor.All(ctx, &participants); err != nil {
		return nil, wrapErr("list participants", err)
	}
	if participants == nil {
		participants = []models.Participant{}
	}
	return participants, nil
}

func (s *Mongo) DeleteParticipant(ctx context.Context, meetingID primitive.ObjectID, userID string) error {
	res, err := s.participants.DeleteOne(ctx, bson.M{"meeting_id": meetingID, "user_id": userID})
	if err != nil {
		return wrapErr("delete participant", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete participant: %w", domain.ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Vote operations
// ---------------------------------------------------------------------------

func (s *Mongo) CreateVote(ctx context.Context, v *models.Vote) error {
	v.CreatedAt = time.Now().UTC()
	v.IsOpen = true
	res, err := s.votes.InsertOne(ctx, v)
	if err != nil {
		return wrapErr("create vote", err)
	}
	v.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *Mongo) GetVote(ctx context.Context, id primitive.ObjectID) (*models.Vote, error) {
	var v models.Vote
	if err := s.votes.FindOne(ctx, bson.M{"_id": id}).Decode(&v); err != nil {
		return nil, wrapErr("get vote", err)
	}
	return &v, nil
}

func (s *Mongo) ListVotesByItem(ctx context.Context, itemID primitive.ObjectID) ([]models.Vote, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.votes.Find(ctx, bson.M{"agenda_item_id": itemID}, opts)
	if err != nil {
		return nil, wrapErr("list votes", err)
	}
	defer cursor.Close(ctx)

	var votes []models.Vote
	if err := cursor.All(ctx, &votes); err != nil {
		return nil, wrapErr("list votes", err)
	}
	if votes == nil {
		votes = []models.Vote{}
	}
	return votes, nil
}

// CloseVote conditionally flips is_open so that a close racing another close
// (or a concurrent cast) resolves at the document level, not in application
// code. The second close finds nothing to update and returns the stored
// vote unchanged.
func (s *Mongo) CloseVote(ctx context.Context, id primitive.ObjectID, at time.Time) (*models.Vote, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var v models.Vote
	err := s.votes.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "is_open": true},
		bson.M{"$set": bson.M{"is_open": false, "closed_at": at}},
		opts,
	).Decode(&v)
	if err == nil {
		return &v, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, wrapErr("close vote", err)
	}
	// Already closed, or missing entirely.
	return s.GetVote(ctx, id)
}

func (s *Mongo) DeleteVote(ctx context.Context, id primitive.ObjectID) error {
	if _, err := s.responses.DeleteMany(ctx, bson.M{"vote_id": id}); err != nil {
		return wrapErr("delete vote responses", err)
	}
	res, err := s.votes.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrapErr("delete vote", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete vote: %w", domain.ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Vote response operations
// ---------------------------------------------------------------------------

// UpsertVoteResponse is a single atomic replace-on-conflict against the
// unique (vote_id, user_id) index. Two rapid re-votes by the same user can
// never produce two ballots or lose both.
func (s *Mongo) UpsertVoteResponse(ctx context.Context, r *models.VoteResponse) error {
	r.CastAt = time.Now().UTC()
	_, err := s.responses.ReplaceOne(ctx,
		bson.M{"vote_id": r.VoteID, "user_id": r.UserID},
		bson.M{
			"vote_id":    r.VoteID,
			"user_id":    r.UserID,
			"company_id": r.CompanyID,
			"option":     r.Option,
			"cast_at":    r.CastAt,
		},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return wrapErr("upsert vote response", err)
	}
	return nil
}

func (s *Mongo) ListVoteResponses(ctx context.Context, voteID primitive.ObjectID) ([]models.VoteResponse, error) {
	opts := options.Find().SetSort(bson.D{{Key: "cast_at", Value: 1}})
	cursor, err := s.responses.Find(ctx, bson.M{"vote_id": voteID}, opts)
	if err != nil {
		return nil, wrapErr("list vote responses", err)
	}
	defer cursor.Close(ctx)

	var responses []models.VoteResponse
	if err := cursor.All(ctx, &responses); err != nil {
		return nil, wrapErr("list vote responses", err)
	}
	if responses == nil {
		responses = []models.VoteResponse{}
	}
	return responses, nil
}

// ---------------------------------------------------------------------------
// Audit operations
// ---------------------------------------------------------------------------

func (s *Mongo) CreateAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	entry.Timestamp = time.Now().UTC()
	res, err := s.audit.InsertOne(ctx, entry)
	if err != nil {
		return wrapErr("create audit entry", err)
	}
	entry.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *Mongo) ListAuditEntries(ctx context.Context, actor string, since *time.Time, limit int64) ([]models.AuditEntry, error) {
	filter := bson.M{}
	if actor != "" {
		filter["actor"] = actor
	}
	if since != nil {
		filter["timestamp"] = bson.M{"$gt": *since}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.audit.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapErr("list audit entries", err)
	}
	defer cursor.Close(ctx)

	var entries []models.AuditEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, wrapErr("list audit entries", err)
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	return entries, nil
}
