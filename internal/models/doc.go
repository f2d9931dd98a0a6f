// Package models defines the core domain models for SplitNPay.
//
// # Models
//
//   - Group: a shared payment goal with a target amount and a fixed
//     participant count
//   - Payment: one confirmed on-chain contribution toward a group
//   - PaymentIntent: a submitted transfer awaiting confirmation or repair
//   - User: a registered account with an associated wallet address
//   - Session: the authenticated caller, passed explicitly into services
//
// # Design Principles
//
//  1. **External truth**: the ledger and the relational store own all
//     durable state; models are plain row/value shapes, never caches.
//  2. **Append-only payments**: Payment rows are created once per
//     confirmed settlement and never mutated or deleted.
//  3. **Explicit sessions**: services receive a Session value instead of
//     reading identity from ambient context, so preconditions are
//     testable in isolation.
//  4. **Avoid circular references**: relationships use ID strings, not
//     pointers.
package models
