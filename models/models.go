package models

// All lists every model for auto-migration
func All() []interface{} {
	return []interface{}{
		&Order{},
		&OrderItem{},
		&OrderImage{},
		&Message{},
		&Notification{},
		&Invoice{},
	}
}
