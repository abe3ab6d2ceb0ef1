package models

// AllTables returns a slice of all tables in the database.
func AllTables() []interface{} {
	return []interface{}{
		&Object{},
		&Actor{},
		&Account{},
		&Collection{}, &CollectionItem{},
		&InboxRecord{},
		&DeliveryRequest{}, &ActorRefreshRequest{},
	}
}
