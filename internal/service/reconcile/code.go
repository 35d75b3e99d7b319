package reconcile

import (
	"fmt"
	"math/rand/v2"
)

// DefaultCodePrefix — префикс кода заказа по умолчанию.
const DefaultCodePrefix = "MID"

const (
	codeMin = 10000
	codeMax = 99999
)

// RandomCode генерирует код вида "<prefix>-NNNNN". Уникальность обеспечивает хранилище.
func RandomCode(prefix string) string {
	return fmt.Sprintf("%s-%05d", prefix, codeMin+rand.IntN(codeMax-codeMin+1))
}
