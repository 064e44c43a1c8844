package model

import (
	"strings"

	"gorm.io/gorm"
)

// TradeTable generates the table name of a trade partition, e.g. trades_2019_09
func TradeTable(partition string) func(tx *gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Table(TradeTableName(partition))
	}
}

func TradeTableName(partition string) string {
	return "trades_" + strings.ToLower(partition)
}

// ExchangeTable, InstrumentTable and ExpiryTable are shared by all partitions
func ExchangeTable() func(tx *gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Table("exchanges")
	}
}

func InstrumentTable() func(tx *gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Table("instruments")
	}
}

func ExpiryTable() func(tx *gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Table("expiries")
	}
}
