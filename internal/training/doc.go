// Package training は研修コンテンツ配信の内部実装を提供する。
//
// 公開済みの研修は認証なしで閲覧できる。作成と公開は管理者ロールに限られ、
// 作成直後は下書きとして扱われる。
package training
