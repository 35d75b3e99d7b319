package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается каталогом для неизвестного товара.
	ErrProductNotFound = errors.New("product not found")
	// ErrCashierNotFound возвращается, если кассир не существует.
	ErrCashierNotFound = errors.New("cashier not found")
	// ErrStockExceeded — запрошено больше единиц, чем есть на складе.
	ErrStockExceeded = errors.New("stock exceeded")
	// ErrLinesRequired — заказ должен содержать хотя бы одну позицию.
	ErrLinesRequired = errors.New("order must contain at least one line")
	// ErrInvalidQuantity — количество в позиции должно быть >= 1.
	ErrInvalidQuantity = errors.New("line quantity must be greater than zero")
	// ErrProductIDRequired — в позиции не указан товар.
	ErrProductIDRequired = errors.New("line product_id is required")
	// ErrCashierRequired — не указан кассир.
	ErrCashierRequired = errors.New("cashier_id is required")
	// ErrStockConflict — значение остатка изменилось между чтением и записью (CAS).
	ErrStockConflict = errors.New("stock changed concurrently")
	// ErrOrderCodeTaken — сгенерированный код заказа уже занят.
	ErrOrderCodeTaken = errors.New("order code already taken")
	// ErrInvalidQuery — некорректный фильтр/сортировка/пагинация.
	ErrInvalidQuery = errors.New("invalid order query")
	// ErrTotalMismatch — сумма заказа не совпадает с суммой позиций.
	ErrTotalMismatch = errors.New("order total does not match line totals")
	// ErrDuplicateLine — две позиции одного заказа ссылаются на один товар.
	ErrDuplicateLine = errors.New("duplicate line for product")
	// ErrTotalOverflow — сумма заказа больше MaxOrderTotal.
	ErrTotalOverflow = errors.New("order total out of range")
	// ErrPriceNegative — цена товара не может быть отрицательной.
	ErrPriceNegative = errors.New("price must be non-negative")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой Idempotency-Key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// ErrorKind классифицирует ошибку движка, чтобы вызывающий код мог ветвиться без сравнения строк.
type ErrorKind string

const (
	KindNotFound    ErrorKind = "not_found"
	KindValidation  ErrorKind = "validation"
	KindConflict    ErrorKind = "conflict"
	KindUnavailable ErrorKind = "unavailable"
)

// StockShortage описывает позицию, для которой не хватило остатка.
type StockShortage struct {
	ProductID   string
	ProductName string
	Requested   int64
	Available   int64
}

// Error — типизированная ошибка операций над заказами.
// Reason всегда один из sentinel-ошибок пакета, Err — исходная причина (если есть).
type Error struct {
	Kind     ErrorKind
	Reason   error
	Message  string
	Err      error
	Shortage *StockShortage
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Reason != nil {
		msg = e.Reason.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap позволяет errors.Is находить как Reason, так и исходную причину.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Reason != nil {
		errs = append(errs, e.Reason)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NotFound создаёт ошибку вида not_found.
func NotFound(reason error, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Validation создаёт ошибку вида validation.
func Validation(reason error, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Conflict создаёт ошибку вида conflict.
func Conflict(reason error, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Unavailable оборачивает сбой хранилища или внешней зависимости.
func Unavailable(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...), Err: err}
}

// StockExceeded создаёт ошибку нехватки остатка с названием товара в сообщении.
func StockExceeded(shortage StockShortage) *Error {
	return &Error{
		Kind:     KindValidation,
		Reason:   ErrStockExceeded,
		Message:  fmt.Sprintf("stock demand exceeds product %s stock", shortage.ProductName),
		Shortage: &shortage,
	}
}

// KindOf возвращает вид ошибки. Нетипизированные ошибки считаются unavailable.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnavailable
}

// IsIdempotencyConflict проверяет, что ключ уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
