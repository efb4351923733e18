package handler

import (
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-orders/internal/domain/order"
)

const maxBodySize = 1 << 20

var (
	maxInt = decimal.NewFromInt(math.MaxInt32)
	minInt = decimal.NewFromInt(math.MinInt32)
)

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, &order.ValidationError{Field: "body", Reason: err.Error()}
	}
	if len(data) == 0 {
		return nil, &order.ValidationError{Field: "body", Reason: "empty"}
	}
	return data, nil
}

func malformed(err error) error {
	var ve *order.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return &order.ValidationError{Field: "body", Reason: "malformed JSON: " + err.Error()}
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var s string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		s = v
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		s = n.String()
	default:
		return decimal.Decimal{}, &order.ValidationError{Field: field, Reason: "must be a number"}
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &order.ValidationError{Field: field, Reason: "must be a number"}
	}
	return v, nil
}

// decodeBool accepts a JSON boolean or the strings "true" and "false".
func decodeBool(d *jx.Decoder, field string) (bool, error) {
	switch d.Next() {
	case jx.Bool:
		return d.Bool()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return false, err
		}
		v, err := strconv.ParseBool(s)
		if err != nil {
			return false, &order.ValidationError{Field: field, Reason: "must be true or false"}
		}
		return v, nil
	default:
		return false, &order.ValidationError{Field: field, Reason: "must be true or false"}
	}
}

func decodeInt(d *jx.Decoder, field string) (int, error) {
	v, err := decodeDecimal(d, field)
	if err != nil {
		return 0, err
	}
	if !v.IsInteger() {
		return 0, &order.ValidationError{Field: field, Reason: "must be an integer"}
	}
	if v.GreaterThan(maxInt) || v.LessThan(minInt) {
		return 0, &order.ValidationError{Field: field, Reason: "out of range"}
	}
	return int(v.IntPart()), nil
}

type placeOrderRequest struct {
	Items   []order.Item
	Amount  decimal.Decimal
	Address order.Address
	Method  order.Method
}

func decodePlaceOrder(data []byte) (*placeOrderRequest, error) {
	var req placeOrderRequest
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				item, err := decodeItem(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		case "amount":
			req.Amount, err = decodeDecimal(d, "amount")
		case "address":
			req.Address, err = decodeAddress(d)
		case "paymentMethod":
			var m string
			m, err = d.Str()
			req.Method = order.Method(m)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, malformed(err)
	}
	if req.Method == "" {
		return nil, &order.ValidationError{Field: "paymentMethod", Reason: "required"}
	}
	if !req.Method.Valid() {
		return nil, &order.ValidationError{Field: "paymentMethod", Reason: "unsupported method " + strconv.Quote(string(req.Method))}
	}
	return &req, nil
}

func decodeItem(d *jx.Decoder) (order.Item, error) {
	var item order.Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId", "_id":
			item.ProductID, err = d.Str()
		case "name":
			item.Name, err = d.Str()
		case "price":
			item.Price, err = decodeDecimal(d, "items.price")
		case "quantity":
			item.Quantity, err = decodeInt(d, "items.quantity")
		case "size":
			item.Size, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	return item, err
}

func decodeAddress(d *jx.Decoder) (order.Address, error) {
	var a order.Address
	fields := map[string]*string{
		"firstName": &a.FirstName,
		"lastName":  &a.LastName,
		"email":     &a.Email,
		"street":    &a.Street,
		"city":      &a.City,
		"state":     &a.State,
		"zipcode":   &a.Zipcode,
		"country":   &a.Country,
		"phone":     &a.Phone,
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		dst, ok := fields[key]
		if !ok {
			return d.Skip()
		}
		switch d.Next() {
		case jx.String:
			v, err := d.Str()
			*dst = v
			return err
		case jx.Number:
			// Zip codes and phone numbers are often sent as numbers.
			n, err := d.Num()
			*dst = n.String()
			return err
		default:
			return d.Skip()
		}
	})
	return a, err
}

type verifyCardRequest struct {
	OrderID string
	Success bool
}

func decodeVerifyCard(data []byte) (*verifyCardRequest, error) {
	var (
		req        verifyCardRequest
		hasSuccess bool
	)
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderId":
			req.OrderID, err = d.Str()
		case "success":
			hasSuccess = true
			req.Success, err = decodeBool(d, "success")
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, malformed(err)
	}
	if !hasSuccess {
		return nil, &order.ValidationError{Field: "success", Reason: "required"}
	}
	return &req, nil
}

type verifyRegionalRequest struct {
	OrderID           string
	ExternalOrderID   string
	ExternalPaymentID string
	Signature         string
}

func decodeVerifyRegional(data []byte) (*verifyRegionalRequest, error) {
	var req verifyRegionalRequest
	fields := map[string]*string{
		"orderId":           &req.OrderID,
		"externalOrderId":   &req.ExternalOrderID,
		"externalPaymentId": &req.ExternalPaymentID,
		"signature":         &req.Signature,
	}
	if err := decodeStrings(data, fields); err != nil {
		return nil, err
	}
	return &req, nil
}

type updateStatusRequest struct {
	OrderID string
	Status  string
}

func decodeUpdateStatus(data []byte) (*updateStatusRequest, error) {
	var req updateStatusRequest
	if err := decodeStrings(data, map[string]*string{
		"orderId": &req.OrderID,
		"status":  &req.Status,
	}); err != nil {
		return nil, err
	}
	return &req, nil
}

// decodeStrings fills string fields of a flat object, skipping unknown keys.
func decodeStrings(data []byte, fields map[string]*string) error {
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		dst, ok := fields[key]
		if !ok {
			return d.Skip()
		}
		v, err := d.Str()
		*dst = v
		return err
	})
	if err != nil {
		return malformed(err)
	}
	return nil
}
