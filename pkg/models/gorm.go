package models

func ModelsToAutoMigrate() []interface{} {
	return []interface{}{
		&User{},
		&Role{},
		&Permission{},
		&Document{},
		&DocumentChunk{},
		&DocumentShare{},
		&Tag{},
		&DocumentTag{},
		&ImportSource{},
		&ActivityLog{},
	}
}
