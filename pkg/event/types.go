package event

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeLoan はローン申請エンティティを表す。
	AggregateTypeLoan AggregateType = "Loan"
	// AggregateTypeBooking はサービス予約エンティティを表す。
	AggregateTypeBooking AggregateType = "Booking"
	// AggregateTypeForumPost はフォーラム投稿エンティティを表す。
	AggregateTypeForumPost AggregateType = "ForumPost"
	// AggregateTypeTraining は研修コンテンツエンティティを表す。
	AggregateTypeTraining AggregateType = "Training"
	// AggregateTypeNotification は通知エンティティを表す。
	AggregateTypeNotification AggregateType = "Notification"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeLoanApplied はローンが申請されたことを表す。
	TypeLoanApplied Type = "LoanApplied"
	// TypeLoanDecided はローン審査の結果が確定したことを表す。
	TypeLoanDecided Type = "LoanDecided"

	// TypeBookingCreated はサービス予約が作成されたことを表す。
	TypeBookingCreated Type = "BookingCreated"
	// TypeBookingStatusChanged はサービス予約のステータスが変更されたことを表す。
	TypeBookingStatusChanged Type = "BookingStatusChanged"

	// TypeForumPostCreated はフォーラムに投稿されたことを表す。
	TypeForumPostCreated Type = "ForumPostCreated"
	// TypeForumCommentAdded はフォーラム投稿にコメントが付いたことを表す。
	TypeForumCommentAdded Type = "ForumCommentAdded"
	// TypeForumPostLiked はフォーラム投稿に「いいね」が付いたことを表す。
	TypeForumPostLiked Type = "ForumPostLiked"

	// TypeTrainingPublished は研修コンテンツが公開されたことを表す。
	TypeTrainingPublished Type = "TrainingPublished"

	// TypeNotificationSent は通知が送信されたことを表す。
	TypeNotificationSent Type = "NotificationSent"
)

// LoanAppliedData はLoanAppliedイベントのデータ。
type LoanAppliedData struct {
	UserID       string  `json:"user_id"`
	ProviderName string  `json:"provider_name"`
	Amount       float64 `json:"amount"`
	Purpose      string  `json:"purpose"`
	// DecisionDueAt は審査結果が確定する予定日時（RFC3339）。
	DecisionDueAt string `json:"decision_due_at"`
}

// LoanDecidedData はLoanDecidedイベントのデータ。
type LoanDecidedData struct {
	UserID          string `json:"user_id"`
	Status          string `json:"status"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// BookingCreatedData はBookingCreatedイベントのデータ。
type BookingCreatedData struct {
	BuyerID     string  `json:"buyer_id"`
	SellerID    string  `json:"seller_id"`
	ServiceType string  `json:"service_type"`
	Amount      float64 `json:"amount"`
}

// BookingStatusChangedData はBookingStatusChangedイベントのデータ。
type BookingStatusChangedData struct {
	// ActorID はステータスを変更したユーザー（出品者）のID。
	ActorID string `json:"actor_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// ForumPostCreatedData はForumPostCreatedイベントのデータ。
type ForumPostCreatedData struct {
	AuthorID string `json:"author_id"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

// ForumCommentAddedData はForumCommentAddedイベントのデータ。
type ForumCommentAddedData struct {
	CommentID string `json:"comment_id"`
	AuthorID  string `json:"author_id"`
}

// ForumPostLikedData はForumPostLikedイベントのデータ。
type ForumPostLikedData struct {
	UserID string `json:"user_id"`
}

// TrainingPublishedData はTrainingPublishedイベントのデータ。
type TrainingPublishedData struct {
	Title    string `json:"title"`
	Category string `json:"category"`
}

// NotificationSentData はNotificationSentイベントのデータ。
type NotificationSentData struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// SenderID は通知のきっかけとなったユーザーのID。システム通知の場合は空。
	SenderID string `json:"sender_id,omitempty"`
	// NotificationType は通知の種類。
	NotificationType string `json:"notification_type"`
	// RelatedID は通知に関連するエンティティのID。
	RelatedID string `json:"related_id,omitempty"`
}
