package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/storefront-orders/internal/domain/order"
)

type itemDoc struct {
	ProductID string               `bson:"productId,omitempty"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Quantity  int                  `bson:"quantity"`
	Size      string               `bson:"size,omitempty"`
}

type addressDoc struct {
	FirstName string `bson:"firstName,omitempty"`
	LastName  string `bson:"lastName,omitempty"`
	Email     string `bson:"email,omitempty"`
	Street    string `bson:"street"`
	City      string `bson:"city"`
	State     string `bson:"state,omitempty"`
	Zipcode   string `bson:"zipcode,omitempty"`
	Country   string `bson:"country"`
	Phone     string `bson:"phone,omitempty"`
}

type orderDoc struct {
	ID            string               `bson:"_id"`
	UserID        string               `bson:"userId"`
	Items         []itemDoc            `bson:"items"`
	Amount        primitive.Decimal128 `bson:"amount"`
	Address       addressDoc           `bson:"address"`
	Status        string               `bson:"status"`
	PaymentMethod string               `bson:"paymentMethod"`
	Payment       bool                 `bson:"payment"`
	ExternalRef   string               `bson:"externalRef,omitempty"`
	Date          time.Time            `bson:"date"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("converting %s to decimal128: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("converting decimal128 %s: %w", v, err)
	}
	return d, nil
}

func newOrderDoc(o *order.Order) (*orderDoc, error) {
	amount, err := toDecimal128(o.Amount)
	if err != nil {
		return nil, err
	}
	items := make([]itemDoc, 0, len(o.Items))
	for _, it := range o.Items {
		price, err := toDecimal128(it.Price)
		if err != nil {
			return nil, err
		}
		items = append(items, itemDoc{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     price,
			Quantity:  it.Quantity,
			Size:      it.Size,
		})
	}
	return &orderDoc{
		ID:            o.ID,
		UserID:        o.UserID,
		Items:         items,
		Amount:        amount,
		Address:       addressDoc(o.Address),
		Status:        string(o.Status),
		PaymentMethod: string(o.Method),
		Payment:       o.Payment,
		ExternalRef:   o.ExternalRef,
		Date:          o.Date,
	}, nil
}

func (d *orderDoc) toOrder() (order.Order, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return order.Order{}, err
	}
	items := make([]order.Item, 0, len(d.Items))
	for _, it := range d.Items {
		price, err := fromDecimal128(it.Price)
		if err != nil {
			return order.Order{}, err
		}
		items = append(items, order.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     price,
			Quantity:  it.Quantity,
			Size:      it.Size,
		})
	}
	return order.Order{
		ID:          d.ID,
		UserID:      d.UserID,
		Items:       items,
		Amount:      amount,
		Address:     order.Address(d.Address),
		Method:      order.Method(d.PaymentMethod),
		Payment:     d.Payment,
		Status:      order.Status(d.Status),
		ExternalRef: d.ExternalRef,
		Date:        d.Date.UTC(),
	}, nil
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository on the orders collection.
type OrderRepository struct {
	c *mongo.Collection
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	doc, err := newOrderDoc(o)
	if err != nil {
		return err
	}
	if _, err := r.c.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var doc orderDoc
	if err := r.c.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := doc.toOrder()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetForUpdate writes a lock marker on the document so that concurrent
// transactions touching the same order conflict and get retried.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	var doc orderDoc
	err := r.c.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "lockSeq", Value: 1}}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("locking order %q: %w", id, err)
	}
	o, err := doc.toOrder()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// List returns matching orders, oldest first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	filter := bson.D{}
	if f.UserID != "" {
		filter = append(filter, bson.E{Key: "userId", Value: f.UserID})
	}
	if f.Unpaid {
		filter = append(filter, bson.E{Key: "payment", Value: false})
	}
	if len(f.Methods) > 0 {
		methods := make(bson.A, 0, len(f.Methods))
		for _, m := range f.Methods {
			methods = append(methods, string(m))
		}
		filter = append(filter, bson.E{Key: "paymentMethod", Value: bson.D{{Key: "$in", Value: methods}}})
	}
	if !f.CreatedBefore.IsZero() {
		filter = append(filter, bson.E{Key: "date", Value: bson.D{{Key: "$lt", Value: f.CreatedBefore}}})
	}

	cur, err := r.c.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	var docs []orderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}

	orders := make([]order.Order, 0, len(docs))
	for i := range docs {
		o, err := docs[i].toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (r *OrderRepository) MarkPaid(ctx context.Context, id string) error {
	return r.set(ctx, id, bson.E{Key: "payment", Value: true})
}

func (r *OrderRepository) SetExternalRef(ctx context.Context, id, ref string) error {
	return r.set(ctx, id, bson.E{Key: "externalRef", Value: ref})
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status) error {
	return r.set(ctx, id, bson.E{Key: "status", Value: string(status)})
}

func (r *OrderRepository) set(ctx context.Context, id string, field bson.E) error {
	res, err := r.c.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{field}}},
	)
	if err != nil {
		return fmt.Errorf("updating %s of order %q: %w", field.Key, id, err)
	}
	if res.MatchedCount == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	res, err := r.c.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return order.ErrNotFound
	}
	return nil
}
