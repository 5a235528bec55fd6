package model

// All 返回需要建表的全部模型
func All() []any {
	return []any{
		&User{},
		&Group{},
		&GroupMember{},
		&Content{},
		&ContentGroup{},
		&NewsfeedEntry{},
		&Reaction{},
		&OutboxEvent{},
	}
}
