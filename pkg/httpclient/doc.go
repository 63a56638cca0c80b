// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 業務サービスから通知サービスの内部APIへの通知送信や、Event Storeへのイベント追記など、
// サービス間の通信パターンを統一する。
package httpclient
