package infra

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

// NumericToInt64 converts a numeric(15,0) minor-unit amount to int64.
// NULL, NaN, infinities, fractional values and values outside int64 are
// errors; an amount is never rounded on the way out of the database.
func NumericToInt64(n pgtype.Numeric) (int64, error) {
	switch {
	case !n.Valid:
		return 0, fmt.Errorf("numeric value is NULL")
	case n.NaN:
		return 0, fmt.Errorf("numeric value is NaN")
	case n.InfinityModifier != pgtype.Finite:
		return 0, fmt.Errorf("numeric value is infinite")
	case n.Int == nil:
		return 0, nil
	}

	bi := new(big.Int).Set(n.Int)
	if n.Exp > 0 {
		bi.Mul(bi, pow10(n.Exp))
	} else if n.Exp < 0 {
		var rem big.Int
		bi.QuoRem(bi, pow10(-n.Exp), &rem)
		if rem.Sign() != 0 {
			return 0, fmt.Errorf("numeric value %se%d has a fractional part", n.Int, n.Exp)
		}
	}

	if !bi.IsInt64() {
		return 0, fmt.Errorf("numeric value %s overflows int64", bi.String())
	}
	return bi.Int64(), nil
}

// Int64ToNumeric converts a minor-unit amount for a numeric(15,0) column.
func Int64ToNumeric(v int64) pgtype.Numeric {
	return pgtype.Numeric{
		Int:              big.NewInt(v),
		InfinityModifier: pgtype.Finite,
		Valid:            true,
	}
}

func pow10(exp int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
